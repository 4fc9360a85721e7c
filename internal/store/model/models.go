package model

import (
	"gorm.io/datatypes"
)

type OrderModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	IdempotencyKey  string         `gorm:"column:idempotency_key;index"`
	Market          string         `gorm:"column:market"`
	Action          string         `gorm:"column:action"`
	Size            string         `gorm:"column:size"`
	PriceLimit      string         `gorm:"column:price_limit"`
	Confidence      float64        `gorm:"column:confidence"`
	IntentJSON      datatypes.JSON `gorm:"column:intent_json;type:TEXT"`
	Status          string         `gorm:"column:status;index"`
	AttemptCount    int            `gorm:"column:attempt_count"`
	MaxRetries      int            `gorm:"column:max_retries"`
	CancelRequested bool           `gorm:"column:cancel_requested"`
	ExecutionMethod string         `gorm:"column:execution_method"`
	ResultReference string         `gorm:"column:result_reference"`
	LastErrorKind   string         `gorm:"column:last_error_kind"`
	LastErrorMsg    string         `gorm:"column:last_error_msg"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

type AttemptModel struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	AttemptID     string `gorm:"column:attempt_id;uniqueIndex"`
	OrderID       string `gorm:"column:order_id;index"`
	Backend       string `gorm:"column:backend"`
	StartedAtUnix int64  `gorm:"column:started_at"`
	EndedAtUnix   int64  `gorm:"column:ended_at"`
	Outcome       string `gorm:"column:outcome"`
	ErrorKind     string `gorm:"column:error_kind"`
}

func (AttemptModel) TableName() string { return "execution_attempts" }

type MetricsSnapshotModel struct {
	ID              int64          `gorm:"column:id;primaryKey;autoIncrement"`
	WindowStartUnix int64          `gorm:"column:window_start;index"`
	Window          string         `gorm:"column:window"`
	PayloadJSON     datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
}

func (MetricsSnapshotModel) TableName() string { return "metrics_snapshots" }
