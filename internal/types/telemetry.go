package types

// CloudWatch metric names and dimensions.
const (
	MetricSweepScanned       = "BoostSweepScanned"
	MetricSweepBumped        = "BoostSweepBumped"
	MetricSweepDeactivated   = "BoostSweepDeactivated"
	MetricSweepFailedBatches = "BoostSweepFailedBatches"
	MetricPushDelivery       = "PushDelivery"

	DimPlatform = "Platform"
	DimResult   = "Result"

	MetricNamespace = "Classifieds"
)
