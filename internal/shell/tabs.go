package shell

import (
	"github.com/newedge/merchant-portal/internal/localstore"
)

// Tab identifies one of the portal's main views.
type Tab string

const (
	TabHome          Tab = "home"
	TabOrders        Tab = "orders"
	TabAdd           Tab = "add"
	TabNotifications Tab = "notifications"
	TabPayouts       Tab = "payouts"
)

// Tabs lists all views in display order.
var Tabs = []Tab{TabHome, TabOrders, TabAdd, TabNotifications, TabPayouts}

func validTab(t Tab) bool {
	for _, known := range Tabs {
		if t == known {
			return true
		}
	}
	return false
}

// loadActiveTab restores the last active tab preference. Unknown or missing
// values fall back to the home tab.
func loadActiveTab(kv localstore.Store) Tab {
	raw, ok, err := kv.Get(localstore.KeyActiveTab)
	if err != nil || !ok || !validTab(Tab(raw)) {
		return TabHome
	}
	return Tab(raw)
}
