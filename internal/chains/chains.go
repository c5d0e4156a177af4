package chains

import (
	"context"

	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventprocessor"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
)

// ChainStack contains the components running for a specific ChainID.
type ChainStack struct {
	Store     sqlstore.SystemStore
	Feed      eventfeed.EventFeed
	Processor eventprocessor.EventProcessor
	// Close gracefully closes all the chain stack components.
	Close func(ctx context.Context) error
}
