package main

import (
	"encoding/json"
	"fmt"

	"metapus/internal/domain/documents/goods_issue"
	"metapus/internal/metadata"
)

func main() {
	reg := metadata.NewRegistry()

	// Register GoodsIssue
	gi := goods_issue.GoodsIssue{}
	fmt.Println("Inspecting GoodsIssue...")
	defGI := metadata.Inspect(gi, "GoodsIssue", metadata.TypeDocument)
	defGI.TableName = "doc_goods_issue"

	// Manual enhancements (simulating what would come from tags or translation files)
	defGI.Label = "Реализация товаров"

	// Fix Labels
	for i, f := range defGI.Fields {
		switch f.Name {
		case "number":
			defGI.Fields[i].Label = "Номер"
		case "date":
			defGI.Fields[i].Label = "Дата"
		case "customerId":
			defGI.Fields[i].Label = "Покупатель"
			defGI.Fields[i].ReferenceType = "counterparty"
		case "warehouseId":
			defGI.Fields[i].Label = "Склад"
			defGI.Fields[i].ReferenceType = "warehouse"
		}
	}

	// Fix TableParts
	if len(defGI.TableParts) > 0 {
		tp := &defGI.TableParts[0]
		tp.Label = "Товары"
		for i, c := range tp.Columns {
			switch c.Name {
			case "productId":
				tp.Columns[i].Label = "Номенклатура"
				tp.Columns[i].ReferenceType = "nomenclature"
			case "quantity":
				tp.Columns[i].Label = "Количество"
			case "unitPrice":
				tp.Columns[i].Label = "Цена за ед."
			}
		}
	}

	reg.Register(defGI)

	// List all
	defaults := reg.List()

	// Print JSON
	bytes, _ := json.MarshalIndent(defaults, "", "  ")
	fmt.Println(string(bytes))
}
