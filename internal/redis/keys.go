package redisx

import "fmt"

const ns = "gatecheck:v1"

func KeyTierInventory(eventID, tierID int64) string {
	return fmt.Sprintf("%s:tier:%d:%d:inventory", ns, eventID, tierID)
}

func KeyIdemHold(eventID, tierID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:holds:%d:%d:%s", ns, eventID, tierID, idemKey)
}

func ChannelInventoryChanged() string {
	return ns + ":inventory:changed"
}
