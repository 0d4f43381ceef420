package model

// Permission represents a string code for a specific admin action. Admin
// tokens carry the codes granted by the institution console.
type Permission string

const (
	// PermissionPinsManage allows generating PIN batches, revoking batches and
	// editing allow-lists.
	PermissionPinsManage Permission = "pins:manage"

	// PermissionAttemptsReview allows reading results, reviewing and reprocessing attempts.
	PermissionAttemptsReview Permission = "attempts:review"

	// PermissionAttemptsMonitor allows attaching to the live exam monitor.
	PermissionAttemptsMonitor Permission = "attempts:monitor"

	// PermissionAnalyticsRead allows reading question analytics.
	PermissionAnalyticsRead Permission = "analytics:read"

	// PermissionExamsCache allows invalidating cached exam configuration.
	PermissionExamsCache Permission = "exams:cache"

	// PermissionSystemRead allows streaming process and queue metrics.
	PermissionSystemRead Permission = "system:read"

	// PermissionAll grants every permission.
	PermissionAll Permission = "*"
)
