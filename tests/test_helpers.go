package tests

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/tagihanapp/tagihan/internal/infrastructure/midtrans"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetupTestDB spins up a fresh MongoDB container and returns the database
// connection along with a cleanup function. The container runs as a single
// node replica set because the ledger commits in multi-document transactions.
func SetupTestDB(t *testing.T) (*mongo.Database, func()) {
	ctx := context.Background()

	mongodbContainer, err := mongodb.Run(ctx, "mongo:latest", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	endpoint, err := mongodbContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return mongoClient.Database("test_db"), func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("failed to disconnect mongo: %v", err)
		}
		if err := mongodbContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}
}

// MockAuthClient implements service.FirebaseAuthClient for testing
type MockAuthClient struct {
	ValidTokens map[string]*auth.Token
}

func NewMockAuthClient() *MockAuthClient {
	return &MockAuthClient{
		ValidTokens: make(map[string]*auth.Token),
	}
}

func (m *MockAuthClient) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if token, ok := m.ValidTokens[idToken]; ok {
		return token, nil
	}
	return nil, fmt.Errorf("invalid mock token")
}

// AddMockUser registers a fake Firebase token for a user
func (m *MockAuthClient) AddMockUser(tokenString string, uid string, email string) {
	m.ValidTokens[tokenString] = &auth.Token{
		UID: uid,
		Claims: map[string]interface{}{
			"email": email,
		},
	}
}

// MockGateway implements service.Gateway, returning canned charge results
// without any network traffic.
type MockGateway struct {
	mu      sync.Mutex
	Calls   int
	NextErr error
}

func (m *MockGateway) ChargeQRIS(ctx context.Context, req midtrans.ChargeRequest) (*midtrans.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.NextErr != nil {
		err := m.NextErr
		m.NextErr = nil
		return nil, err
	}

	transactionID := fmt.Sprintf("mock-trx-%d", m.Calls)
	raw := []byte(fmt.Sprintf(`{"transaction_id":%q,"order_id":%q,"transaction_status":"pending","payment_type":"qris","actions":[{"name":%q,"url":"https://api.sandbox.midtrans.com/v2/qris/%s/qr-code"}]}`,
		transactionID, req.OrderID, midtrans.QRActionName, transactionID))

	return &midtrans.ChargeResult{
		TransactionID:     transactionID,
		OrderID:           req.OrderID,
		TransactionStatus: "pending",
		PaymentType:       midtrans.PaymentTypeQRIS,
		Raw:               raw,
	}, nil
}

func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
