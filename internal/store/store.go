// Package store persists quotes, securities, and orders, and gives the
// executor and strategy evaluator the conditional order settlement and net
// position queries they depend on for correctness.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vixroll/controlplane/internal/models"
)

// ErrNoRows is returned when a lookup finds nothing, mirroring the teacher's
// convention of exposing sentinel errors instead of leaking gorm's own.
var ErrNoRows = errors.New("store: no matching rows")

// ErrAlreadySettled is returned by SettleOrder when no PENDING row matches
// the order's key — the order was settled by a previous run (§3 invariant 2),
// or no such order exists.
var ErrAlreadySettled = errors.New("store: order already settled")

// quoteRow, securityRow, and orderRow are the gorm-mapped tables. They are
// kept separate from the models package's domain types so the schema can
// evolve (column names, indexes) without leaking into the rest of the core.
type quoteRow struct {
	Symbol string  `gorm:"primaryKey"`
	Date   string  `gorm:"primaryKey"`
	Close  float64
}

func (quoteRow) TableName() string { return "quotes" }

type securityRow struct {
	Symbol         string `gorm:"primaryKey"`
	Broker         string `gorm:"primaryKey"`
	TradingEnabled bool
	Name           string
	MarketGroup    string
	RiskFactor     float64
	MaxPosition    float64
}

func (securityRow) TableName() string { return "securities" }

type orderRow struct {
	OrderID         string `gorm:"primaryKey"`
	TransactionTime string `gorm:"primaryKey"`
	Symbol          string `gorm:"index:idx_symbol_broker"`
	Broker          string `gorm:"index:idx_symbol_broker"`
	Maturity        string
	ProductType     string
	Status          string
	Side            string
	Size            float64
	OrdType         string
	StopDistance    *float64
	FillTime        *time.Time
	TradeSide       string
	FilledSize      float64
	Price           float64
	TradeBrokerName string
	TradeRefType    string
	TradeRef        string
	StrategyName    string
	StrategyReason  string
}

func (orderRow) TableName() string { return "orders" }

// Store is the gateway onto the persisted data model.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a sqlite-backed store at path and
// migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.AutoMigrate(&quoteRow{}, &securityRow{}, &orderRow{}); err != nil {
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewForTest wraps an already-open *gorm.DB, used by tests that need an
// in-memory database.
func NewForTest(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&quoteRow{}, &securityRow{}, &orderRow{}); err != nil {
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetQuote returns the closing quote for symbol on date (YYYYMMDD).
func (s *Store) GetQuote(ctx context.Context, symbol, date string) (*models.Quote, error) {
	var row quoteRow
	err := s.db.WithContext(ctx).Where("symbol = ? AND date = ?", symbol, date).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return &models.Quote{Symbol: row.Symbol, Date: row.Date, Close: row.Close}, nil
}

// PutQuote inserts or replaces a quote row, used by the replay harness to
// seed historical prices.
func (s *Store) PutQuote(ctx context.Context, q models.Quote) error {
	row := quoteRow{Symbol: q.Symbol, Date: q.Date, Close: q.Close}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetSecurity returns the security master row for (symbol, broker).
func (s *Store) GetSecurity(ctx context.Context, symbol, broker string) (*models.Security, error) {
	var row securityRow
	err := s.db.WithContext(ctx).Where("symbol = ? AND broker = ?", symbol, broker).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	return securityFromRow(row), nil
}

// GetSecurities returns the security master rows matching the union of
// requested keys in a single query, used by the executor to join orders to
// their securities without one round trip per order.
func (s *Store) GetSecurities(ctx context.Context, keys []models.SecurityKey) ([]models.Security, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	session := s.db.WithContext(ctx)
	clause := session.Session(&gorm.Session{NewDB: true}).Where("symbol = ? AND broker = ?", keys[0].Symbol, keys[0].Broker)
	for _, k := range keys[1:] {
		clause = clause.Or("symbol = ? AND broker = ?", k.Symbol, k.Broker)
	}

	var rows []securityRow
	if err := session.Where(clause).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get securities: %w", err)
	}

	securities := make([]models.Security, 0, len(rows))
	for _, row := range rows {
		securities = append(securities, *securityFromRow(row))
	}
	return securities, nil
}

// PutSecurity inserts or replaces a security master row.
func (s *Store) PutSecurity(ctx context.Context, sec models.Security) error {
	row := securityRow{
		Symbol:         sec.Symbol,
		Broker:         sec.Broker,
		TradingEnabled: sec.TradingEnabled,
		Name:           sec.Description.Name,
		MarketGroup:    sec.Description.MarketGroup,
		RiskFactor:     sec.Risk.RiskFactor,
		MaxPosition:    sec.Risk.MaxPosition,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func securityFromRow(row securityRow) *models.Security {
	return &models.Security{
		Symbol:         row.Symbol,
		Broker:         row.Broker,
		TradingEnabled: row.TradingEnabled,
		Description: models.SecurityDescription{
			Name:        row.Name,
			MarketGroup: row.MarketGroup,
		},
		Risk: models.SecurityRisk{
			RiskFactor:  row.RiskFactor,
			MaxPosition: row.MaxPosition,
		},
	}
}

// GetOrdersBySymbolBroker returns every order for (symbol, broker) regardless
// of maturity or status, used by the dashboard's order listing.
func (s *Store) GetOrdersBySymbolBroker(ctx context.Context, symbol, broker string) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where("symbol = ? AND broker = ?", symbol, broker).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get orders by symbol/broker: %w", err)
	}
	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, orderFromRow(row))
	}
	return orders, nil
}

// CreateOrder inserts a new PENDING order (or, if draft.BackTestTrade is
// set, an already-FILLED one) and returns it.
func (s *Store) CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	now := time.Now().UTC()
	row := orderRow{
		OrderID:         uuid.NewString(),
		TransactionTime: fmt.Sprintf("%d", now.Unix()),
		Symbol:          draft.Symbol,
		Broker:          draft.Broker,
		Maturity:        draft.Maturity,
		ProductType:     draft.ProductType,
		Status:          string(models.StatusPending),
		Side:            string(draft.Order.Side),
		Size:            draft.Order.Size,
		OrdType:         string(draft.Order.OrdType),
		StopDistance:    draft.Order.StopDistance,
		StrategyName:    draft.Strategy.Name,
		StrategyReason:  string(draft.Strategy.Reason),
	}

	if draft.BackTestTrade != nil {
		trade := draft.BackTestTrade
		row.Status = string(models.StatusFilled)
		fillTime := trade.FillTime
		row.FillTime = &fillTime
		row.TradeSide = string(trade.Side)
		row.FilledSize = trade.FilledSize
		row.Price = trade.Price
		row.TradeBrokerName = trade.Broker.Name
		row.TradeRefType = trade.Broker.RefType
		row.TradeRef = trade.Broker.Ref
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order := orderFromRow(row)
	return &order, nil
}

// SettleOrder transitions a PENDING order to a terminal status, recording
// the fill. It is a conditional update (WHERE status = PENDING) so a
// duplicate settlement attempt — e.g. two executor runs racing on the same
// order after a timeout — transitions the order exactly once; the losing
// caller gets ErrAlreadySettled rather than silently clobbering the trade.
func (s *Store) SettleOrder(ctx context.Context, orderID, transactionTime string, status models.OrderStatus, trade models.Trade) error {
	if err := models.ValidateTransition(models.StatusPending, status); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":            string(status),
		"trade_side":        string(trade.Side),
		"filled_size":       trade.FilledSize,
		"price":             trade.Price,
		"trade_broker_name": trade.Broker.Name,
		"trade_ref_type":    trade.Broker.RefType,
		"trade_ref":         trade.Broker.Ref,
	}
	if !trade.FillTime.IsZero() {
		updates["fill_time"] = trade.FillTime
	}

	result := s.db.WithContext(ctx).Model(&orderRow{}).
		Where("order_id = ? AND transaction_time = ? AND status = ?", orderID, transactionTime, string(models.StatusPending)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("settle order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadySettled
	}
	return nil
}

// NetPosition returns the signed sum of filled sizes (BUY positive, SELL
// negative) over FILLED and PART_FILLED orders for (symbol, maturity),
// restricted to broker.
func (s *Store) NetPosition(ctx context.Context, symbol, broker, maturity string) (float64, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND broker = ? AND maturity = ? AND status IN ?",
			symbol, broker, maturity, []string{string(models.StatusFilled), string(models.StatusPartFilled)}).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("net position: %w", err)
	}

	var net float64
	for _, row := range rows {
		signed := row.FilledSize
		if models.Side(row.TradeSide) == models.SideSell {
			signed = -signed
		}
		net += signed
	}
	return net, nil
}

func orderFromRow(row orderRow) models.Order {
	order := models.Order{
		OrderID:         row.OrderID,
		TransactionTime: row.TransactionTime,
		Symbol:          row.Symbol,
		Broker:          row.Broker,
		Maturity:        row.Maturity,
		ProductType:     row.ProductType,
		Status:          models.OrderStatus(row.Status),
		Order: models.OrderDetail{
			Side:         models.Side(row.Side),
			Size:         row.Size,
			OrdType:      models.OrderType(row.OrdType),
			StopDistance: row.StopDistance,
		},
		Strategy: models.OrderStrategy{
			Name:   row.StrategyName,
			Reason: models.StrategyReason(row.StrategyReason),
		},
	}
	if row.FillTime != nil {
		order.Trade = models.Trade{
			FillTime:   *row.FillTime,
			Side:       models.Side(row.TradeSide),
			FilledSize: row.FilledSize,
			Price:      row.Price,
			Broker: models.TradeBrokerRef{
				Name:    row.TradeBrokerName,
				RefType: row.TradeRefType,
				Ref:     row.TradeRef,
			},
		}
	}
	return order
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
