package storefront

const (
	EventTypeDeployed       = "storefront.deployed"
	EventTypeReadyChanged   = "storefront.ready_changed"
	EventTypeOrderGenerated = "storefront.order_generated"
	EventTypeSale           = "storefront.sale"
	EventTypeFinalMessage   = "storefront.final_message"
	EventTypeRescued        = "storefront.rescued"
)
