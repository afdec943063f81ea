package main

import (
	"metapus/internal/domain/documents/goods_issue"
	"metapus/internal/metadata"
)

// setupMetadataRegistry initializes and populates the metadata registry.
func setupMetadataRegistry() *metadata.Registry {
	reg := metadata.NewRegistry()

	// Helper to register entity with localized label
	register := func(entity interface{}, name string, typ metadata.EntityType, label string) {
		def := metadata.Inspect(entity, name, typ)
		def.Label = label

		// Here we could also augment fields with labels if we had a translation map.
		// For MVP we rely on Inspect's auto-guessing based on field names.

		reg.Register(def)
	}

	// --- Documents ---
	register(goods_issue.GoodsIssue{}, "GoodsIssue", metadata.TypeDocument, "Реализация товаров")

	return reg
}
