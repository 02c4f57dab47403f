package types

// UncategorizedLabel buckets products that carry no category.
const UncategorizedLabel = "uncategorized"

// ComputeStatistics aggregates a product slice into catalog statistics.
// Zero prices are excluded from the price aggregates.
func ComputeStatistics(products []StoredProduct) CatalogStatistics {
	stats := CatalogStatistics{
		TotalProducts: len(products),
		ByCategory:    make(map[string]int),
	}

	var sum float64
	var priced int
	for i := range products {
		p := &products[i]

		category := p.Category
		if category == "" {
			category = UncategorizedLabel
		}
		stats.ByCategory[category]++

		if p.Price > 0 {
			if priced == 0 || p.Price < stats.PriceMin {
				stats.PriceMin = p.Price
			}
			if p.Price > stats.PriceMax {
				stats.PriceMax = p.Price
			}
			sum += p.Price
			priced++
		}

		if stats.LastUpdated == nil || p.UpdatedAt.After(*stats.LastUpdated) {
			t := p.UpdatedAt
			stats.LastUpdated = &t
		}
	}

	if priced > 0 {
		stats.PriceAvg = sum / float64(priced)
	}
	if len(stats.ByCategory) == 0 {
		stats.ByCategory = nil
	}
	return stats
}
