package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric listing bounds.
const (
	DefaultMetricLimit = 100
	MaxMetricLimit     = 1000
)

// SaveMetric appends a metric. ID and a zero Timestamp are filled in.
func (d *DB) SaveMetric(m *Metric) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := d.exec(
		`INSERT INTO metrics (id, agent_id, decision, price, timestamp, trade_executed, trade_tx_hash, trade_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Decision, nullFloat(m.Price), m.Timestamp.UnixNano(),
		boolToInt(m.TradeExecuted), nullString(m.TradeTxHash), nullFloat(m.TradeAmount),
	)
	if err != nil {
		return fmt.Errorf("save metric: %w", err)
	}
	return nil
}

// ListMetrics returns up to limit metrics for an agent, newest first.
func (d *DB) ListMetrics(agentID string, limit int) ([]Metric, error) {
	if limit <= 0 {
		limit = DefaultMetricLimit
	}
	if limit > MaxMetricLimit {
		limit = MaxMetricLimit
	}
	rows, err := d.query(
		`SELECT id, agent_id, decision, price, timestamp, trade_executed, trade_tx_hash, trade_amount
		 FROM metrics WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	metrics := []Metric{}
	for rows.Next() {
		var m Metric
		var price, amount sql.NullFloat64
		var txHash sql.NullString
		var ts int64
		var executed int
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Decision, &price, &ts, &executed, &txHash, &amount); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		m.TradeExecuted = executed != 0
		if price.Valid {
			m.Price = &price.Float64
		}
		if amount.Valid {
			m.TradeAmount = &amount.Float64
		}
		if txHash.Valid {
			m.TradeTxHash = &txHash.String
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// GetAgentStats aggregates all metrics of an agent.
func (d *DB) GetAgentStats(agentID string) (*AgentStats, error) {
	st := &AgentStats{}
	var avg, lo, hi sql.NullFloat64
	err := d.queryRow(
		`SELECT
		    COUNT(*),
		    COALESCE(SUM(CASE WHEN decision LIKE 'BUY%' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN decision LIKE 'HOLD%' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN trade_executed = 1 THEN 1 ELSE 0 END), 0),
		    AVG(price), MIN(price), MAX(price)
		 FROM metrics WHERE agent_id = ?`, agentID,
	).Scan(&st.TotalDecisions, &st.BuyCount, &st.HoldCount, &st.TradesExecuted, &avg, &lo, &hi)
	if err != nil {
		return nil, fmt.Errorf("get agent stats: %w", err)
	}
	if avg.Valid {
		st.AvgPrice = &avg.Float64
	}
	if lo.Valid {
		st.MinPrice = &lo.Float64
	}
	if hi.Valid {
		st.MaxPrice = &hi.Float64
	}
	return st, nil
}
