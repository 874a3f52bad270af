package models

import "time"

type PanicState struct {
	UserID             int64
	IsPanicActive      bool
	ActivatedAt        *time.Time
	StoppedInstanceIDs []int64
}

// PanicResult: итог panic_stop/resume, частичный успех считается счётчиками.
type PanicResult struct {
	Status             string `json:"status"`
	Message            string `json:"message"`
	SellOrdersSent     int    `json:"sell_orders_sent"`
	InstancesStopped   int    `json:"instances_stopped"`
	InstancesRestarted int    `json:"instances_restarted"`
	Failures           int    `json:"failures"`
}
