package shared

// Inventory and master data permissions.
const (
	PermInventoryView     = "inventory.view"
	PermInventoryInbound  = "inventory.inbound"
	PermInventorySupply   = "inventory.supply"
	PermInventoryTransfer = "inventory.transfer"
	PermTransferStatus    = "inventory.transfer.status"

	PermCatalogManage  = "catalog.manage"
	PermClientsView    = "clients.view"
	PermClientsManage  = "clients.manage"
	PermFacilitiesView = "facilities.view"
)

// InventoryScopes lists all permissions related to stock movements.
func InventoryScopes() []string {
	return []string{
		PermInventoryView,
		PermInventoryInbound,
		PermInventorySupply,
		PermInventoryTransfer,
		PermTransferStatus,
	}
}

// MasterDataScopes lists catalog, client and facility permissions.
func MasterDataScopes() []string {
	return []string{
		PermCatalogManage,
		PermClientsView,
		PermClientsManage,
		PermFacilitiesView,
	}
}

var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermInventoryView,
		PermInventoryTransfer,
		PermTransferStatus,
		PermClientsView,
		PermFacilitiesView,
	},
	RoleWarehouse: {
		PermInventoryView,
		PermInventoryInbound,
		PermInventorySupply,
		PermFacilitiesView,
	},
	RoleStaff: {
		PermInventoryView,
		PermClientsView,
	},
}
