package shared

import "fmt"

// AlertScanLockKey builds the redis lock key guarding a tenant's alert scan.
func AlertScanLockKey(tenantID int64) string {
	return fmt.Sprintf("stock:alerts:%d:scan-lock", tenantID)
}

// AlertSnapshotKey builds the redis key holding a tenant's last alert scan.
func AlertSnapshotKey(tenantID int64) string {
	return fmt.Sprintf("stock:alerts:%d:snapshot", tenantID)
}
