package utils

type Metric struct {
	SyncRun              chan float64
	SyncSourcesSucceeded chan float64
	SyncSourcesFailed    chan float64
}

func NewMetric() *Metric {
	return &Metric{
		SyncRun:              make(chan float64),
		SyncSourcesSucceeded: make(chan float64),
		SyncSourcesFailed:    make(chan float64),
	}
}
