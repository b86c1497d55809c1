package models

import "time"

type Source string

const (
	SourceLedger Source = "LEDGER"
	SourceDB     Source = "DB"
)

// Stage is one of the five fixed steps of the sterilization pipeline.
type Stage string

const (
	StageRecebimento   Stage = "RECEBIMENTO"
	StageLavagem       Stage = "LAVAGEM"
	StageDesinfeccao   Stage = "DESINFECCAO"
	StageEsterilizacao Stage = "ESTERILIZACAO"
	StageArmazenamento Stage = "ARMAZENAMENTO"
)

// Stages lists the pipeline in processing order.
var Stages = []Stage{
	StageRecebimento,
	StageLavagem,
	StageDesinfeccao,
	StageEsterilizacao,
	StageArmazenamento,
}

// HistoryEvent is an event of a material or batch, whatever store it came from.
type HistoryEvent struct {
	ID         string    `json:"id,omitempty"`
	Source     Source    `json:"source"`
	Stage      Stage     `json:"stage"`
	Timestamp  time.Time `json:"timestamp"`
	Operator   string    `json:"operator,omitempty"`
	Result     string    `json:"result,omitempty"`
	CycleID    string    `json:"cycleId,omitempty"`
	BatchID    string    `json:"batchId,omitempty"`
	MaterialID string    `json:"materialId,omitempty"`
	TxID       string    `json:"txId,omitempty"`
}
