package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func testEvent() ledger.Event {
	dest := uuid.New()
	return ledger.NewEvent(ledger.EventTransactionCompleted, &ledger.Transaction{
		ID:                  uuid.New(),
		Reference:           "TXN-20260101-DEP-ABC234",
		Type:                ledger.TxTypeDeposit,
		Status:              ledger.TransactionStatusCompleted,
		Amount:              big.NewInt(15000),
		Currency:            "NGN",
		DestinationWalletID: &dest,
		UpdatedAt:           time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestEventPublisher_Publish(t *testing.T) {
	writer := new(MockWriter)
	p := newEventPublisher(writer, logger.Discard())
	event := testEvent()

	var sent []kafka.Message
	writer.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil)

	require.NoError(t, p.Publish(context.Background(), event))
	writer.AssertExpectations(t)

	require.Len(t, sent, 1)
	assert.Equal(t, event.TransactionID.String(), string(sent[0].Key))
	assert.Equal(t, "transaction.completed", string(sent[0].Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(sent[0].Value, &decoded))
	assert.Equal(t, "15000", decoded["amount"], "amounts travel as strings")
	assert.Equal(t, "TXN-20260101-DEP-ABC234", decoded["reference"])
}

func TestEventPublisher_PublishError(t *testing.T) {
	writer := new(MockWriter)
	p := newEventPublisher(writer, logger.Discard())

	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available"))

	err := p.Publish(context.Background(), testEvent())
	assert.ErrorContains(t, err, "leader not available")
}

func TestEventPublisher_Close(t *testing.T) {
	writer := new(MockWriter)
	writer.On("Close").Return(nil)

	require.NoError(t, newEventPublisher(writer, logger.Discard()).Close())
	writer.AssertExpectations(t)
}
