package config

type WorkerKeyStruct struct {
	PersistStatsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistStatsQueue: "persist_stats_queue",
}
