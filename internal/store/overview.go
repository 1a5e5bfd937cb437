package store

import (
	"context"

	"kennelbook/internal/models"
)

// resources lists every capacity-managed (service, slot) pair.
var resources = []struct {
	Service models.Service
	Slot    models.Slot
}{
	{models.ServiceDaycare, models.SlotNone},
	{models.ServiceBoarding, models.SlotSmall},
	{models.ServiceBoarding, models.SlotLarge},
	{models.ServiceTrial, models.SlotNone},
}

// QueryOverview builds the read-only capacity projection for one date:
// per-resource usage, the boarding aggregate (small + large summed
// field by field) and facility totals.
func (db *DB) QueryOverview(ctx context.Context, date string) (*models.Overview, error) {
	overview := &models.Overview{
		Date:      date,
		Resources: make(map[string]models.ResourceUsage, len(resources)),
	}

	for _, res := range resources {
		usage, err := db.GetUsage(ctx, res.Service, res.Slot, date)
		if err != nil {
			return nil, err
		}

		overview.Resources[models.ResourceKey(res.Service, res.Slot)] = usage

		if res.Service == models.ServiceBoarding {
			overview.Aggregate.Boarding.Add(usage)
		}

		overview.Totals.Capacity += usage.Capacity
		overview.Totals.Reserved += usage.Reserved
		overview.Totals.Confirmed += usage.Confirmed
		overview.Totals.Available += usage.Available
	}

	totals := models.ResourceUsage{
		Capacity:  overview.Totals.Capacity,
		Reserved:  overview.Totals.Reserved,
		Confirmed: overview.Totals.Confirmed,
	}
	overview.Totals.UtilisationPct = totals.UtilisationPct()

	return overview, nil
}
