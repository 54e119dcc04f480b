// Package events decodes change-stream batches into the typed Order and
// Quote records the rest of the system uses, keeping the wire shape
// (DynamoDB-Streams-style attribute maps) isolated to this one boundary.
package events

import (
	"fmt"
	"strconv"

	"github.com/vixroll/controlplane/internal/models"
)

// AttributeValue mirrors the DynamoDB Streams wire representation: exactly
// one of these fields is set per value.
type AttributeValue struct {
	S    *string                   `json:"S,omitempty"`
	N    *string                   `json:"N,omitempty"`
	BOOL *bool                     `json:"BOOL,omitempty"`
	M    map[string]AttributeValue `json:"M,omitempty"`
	NULL *bool                     `json:"NULL,omitempty"`
}

// Record is a single change-stream entry.
type Record struct {
	EventName string        `json:"eventName"`
	Dynamodb  RecordPayload `json:"dynamodb"`
}

// RecordPayload carries the key and new row image of a change-stream record.
type RecordPayload struct {
	Keys     map[string]AttributeValue `json:"Keys"`
	NewImage map[string]AttributeValue `json:"NewImage"`
}

// Batch is the top-level change-event payload delivered to both workers.
type Batch struct {
	Records []Record `json:"Records"`
}

func (a AttributeValue) str() (string, bool) {
	if a.S == nil {
		return "", false
	}
	return *a.S, true
}

func (a AttributeValue) num() (float64, bool) {
	if a.N == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(*a.N, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (a AttributeValue) boolean() bool {
	return a.BOOL != nil && *a.BOOL
}

func field(image map[string]AttributeValue, name string) AttributeValue {
	return image[name]
}

// DecodeQuote converts a NewImage attribute map into a Quote. It returns an
// error naming the first missing or malformed required field.
func DecodeQuote(image map[string]AttributeValue) (*models.Quote, error) {
	symbol, ok := field(image, "Symbol").str()
	if !ok {
		return nil, fmt.Errorf("decode quote: missing Symbol")
	}
	date, ok := field(image, "Date").str()
	if !ok {
		return nil, fmt.Errorf("decode quote: missing Date")
	}
	closeVal, ok := field(image, "Close").num()
	if !ok {
		return nil, fmt.Errorf("decode quote: missing or malformed Close")
	}

	return &models.Quote{Symbol: symbol, Date: date, Close: closeVal}, nil
}

// DecodeOrder converts a NewImage attribute map into an Order.
func DecodeOrder(image map[string]AttributeValue) (*models.Order, error) {
	orderID, ok := field(image, "OrderId").str()
	if !ok {
		return nil, fmt.Errorf("decode order: missing OrderId")
	}
	txTime, ok := field(image, "TransactionTime").str()
	if !ok {
		return nil, fmt.Errorf("decode order: missing TransactionTime")
	}
	symbol, ok := field(image, "Symbol").str()
	if !ok {
		return nil, fmt.Errorf("decode order: missing Symbol")
	}
	brokerName, ok := field(image, "Broker").str()
	if !ok {
		return nil, fmt.Errorf("decode order: missing Broker")
	}
	maturity, _ := field(image, "Maturity").str()
	productType, _ := field(image, "ProductType").str()
	status, _ := field(image, "Status").str()

	orderDetail, err := decodeOrderDetail(field(image, "Order").M)
	if err != nil {
		return nil, err
	}

	strategy := decodeStrategy(field(image, "Strategy").M)
	trade := decodeTrade(field(image, "Trade").M)

	return &models.Order{
		OrderID:         orderID,
		TransactionTime: txTime,
		Symbol:          symbol,
		Broker:          brokerName,
		Maturity:        maturity,
		ProductType:     productType,
		Status:          models.OrderStatus(status),
		Order:           orderDetail,
		Trade:           trade,
		Strategy:        strategy,
	}, nil
}

func decodeOrderDetail(m map[string]AttributeValue) (models.OrderDetail, error) {
	side, ok := field(m, "Side").str()
	if !ok {
		return models.OrderDetail{}, fmt.Errorf("decode order: missing Order.Side")
	}
	size, ok := field(m, "Size").num()
	if !ok {
		return models.OrderDetail{}, fmt.Errorf("decode order: missing or malformed Order.Size")
	}
	ordType, _ := field(m, "OrdType").str()

	detail := models.OrderDetail{
		Side:    models.Side(side),
		Size:    size,
		OrdType: models.OrderType(ordType),
	}
	if stopAttr, present := m["StopDistance"]; present {
		if v, ok := stopAttr.num(); ok {
			detail.StopDistance = &v
		}
	}
	return detail, nil
}

func decodeStrategy(m map[string]AttributeValue) models.OrderStrategy {
	name, _ := field(m, "Name").str()
	reason, _ := field(m, "Reason").str()
	return models.OrderStrategy{Name: name, Reason: models.StrategyReason(reason)}
}

func decodeTrade(m map[string]AttributeValue) models.Trade {
	if len(m) == 0 {
		return models.Trade{}
	}
	side, _ := field(m, "Side").str()
	filledSize, _ := field(m, "FilledSize").num()
	price, _ := field(m, "Price").num()

	var brokerRef models.TradeBrokerRef
	if brokerM := field(m, "Broker").M; len(brokerM) > 0 {
		name, _ := field(brokerM, "Name").str()
		refType, _ := field(brokerM, "RefType").str()
		ref, _ := field(brokerM, "Ref").str()
		brokerRef = models.TradeBrokerRef{Name: name, RefType: refType, Ref: ref}
	}

	return models.Trade{
		Side:       models.Side(side),
		FilledSize: filledSize,
		Price:      price,
		Broker:     brokerRef,
	}
}

// InsertedOrders extracts the Order records of every INSERT in the batch,
// ignoring all other event names (SPEC_FULL §6).
func (b Batch) InsertedOrders() ([]models.Order, error) {
	var orders []models.Order
	for _, rec := range b.Records {
		if rec.EventName != "INSERT" {
			continue
		}
		order, err := DecodeOrder(rec.Dynamodb.NewImage)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// InsertedQuotes extracts the Quote records of every INSERT in the batch.
func (b Batch) InsertedQuotes() ([]models.Quote, error) {
	var quotes []models.Quote
	for _, rec := range b.Records {
		if rec.EventName != "INSERT" {
			continue
		}
		quote, err := DecodeQuote(rec.Dynamodb.NewImage)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}
