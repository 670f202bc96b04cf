package multitable

import (
	"context"
	"fmt"

	"kddetl/internal/kdd"
	"kddetl/internal/taxonomy"
)

// attackKeys holds the resolved taxonomy dimensions.
type attackKeys struct {
	categories map[string]int64 // category name -> category_id
	attacks    map[string]int64 // label -> attack_id
}

// loadAttackDimensions loads the five categories first and then one
// attack_types row per distinct input label, linked to its category.
func (e *Engine) loadAttackDimensions(ctx context.Context, recs []kdd.ConnectionRecord) (attackKeys, error) {
	categories, err := e.insertTextRows(ctx, TableAttackCategories, ColCategoryID, ColCategoryName, e.Taxonomy.Categories())
	if err != nil {
		return attackKeys{}, err
	}
	for _, c := range e.Taxonomy.Categories() {
		if _, ok := categories[c]; !ok {
			return attackKeys{}, fmt.Errorf("%s: no id for category %q", TableAttackCategories, c)
		}
	}

	labels := DistinctValues(recs, func(r kdd.ConnectionRecord) string { return r.Label })
	rows := make([][]any, len(labels))
	unknown := 0
	for i, label := range labels {
		if !e.Taxonomy.Known(label) {
			unknown++
		}
		rows[i] = []any{label, categories[e.Taxonomy.Category(label)]}
	}
	if unknown > 0 {
		e.logger()("stage=taxonomy unknown_labels=%d category=%s", unknown, taxonomy.Normal)
	}

	keyed, err := e.insertDimension(ctx, TableAttackTypes, ColAttackID, []string{ColAttackName, ColCategoryID}, rows)
	if err != nil {
		return attackKeys{}, err
	}

	attacks := make(map[string]int64, len(keyed))
	for _, kr := range keyed {
		name, err := textValue(kr.Values[0])
		if err != nil {
			return attackKeys{}, fmt.Errorf("%s: id %d: %w", TableAttackTypes, kr.ID, err)
		}
		attacks[name] = kr.ID
	}
	return attackKeys{categories: categories, attacks: attacks}, nil
}
