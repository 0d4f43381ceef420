package config

type WorkerKeyStruct struct {
	ApplyAnalyticsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ApplyAnalyticsQueue: "apply_analytics_queue",
}
