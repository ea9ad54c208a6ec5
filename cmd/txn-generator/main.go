package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/google/uuid"
)

// Test cards accepted by the Luhn check.
var testCards = []string{
	"4111111111111111",
	"4242424242424242",
	"5555555555554444",
	"378282246310005",
	"6011111111111117",
}

type generator struct {
	baseURL string
	token   string
	client  *http.Client

	mu      sync.Mutex
	methods map[string]string // customer -> payment token
	charges []string
}

func main() {
	baseURL := flag.String("target", "http://localhost:8080", "Billing engine base URL")
	rps := flag.Int("rps", 10, "Charges per second")
	customers := flag.Int("customers", 20, "Number of simulated customers")
	refundRatio := flag.Float64("refund-ratio", 0.1, "Share of ticks that refund a previous charge")
	clientID := flag.String("client-id", "checkout", "OAuth client id")
	clientSecret := flag.String("client-secret", "", "OAuth client secret")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := &generator{
		baseURL: strings.TrimSuffix(*baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		methods: make(map[string]string),
	}
	token, err := g.fetchToken(ctx, *clientID, *clientSecret)
	if err != nil {
		log.Fatalf("failed to obtain access token: %v", err)
	}
	g.token = token

	ids := make([]string, *customers)
	for i := range ids {
		ids[i] = "cust-" + strings.ToLower(faker.Username())
		if err := g.registerCard(ctx, ids[i]); err != nil {
			log.Printf("WARN: failed to register card for %s: %v", ids[i], err)
		}
	}

	log.Printf("Starting generator: target=%s, rps=%d, customers=%d", g.baseURL, *rps, len(ids))
	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if rand.Float64() < *refundRatio {
				go g.refundRandom(ctx)
			} else {
				go g.charge(ctx, ids[rand.Intn(len(ids))])
			}
		case <-ctx.Done():
			log.Println("Shutting down generator...")
			return
		}
	}
}

func (g *generator) fetchToken(ctx context.Context, clientID, secret string) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.AccessToken, nil
}

func (g *generator) post(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v1"+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (g *generator) registerCard(ctx context.Context, customer string) error {
	var pm struct {
		Token string `json:"token"`
	}
	status, err := g.post(ctx, "/payment-methods", map[string]any{
		"customer_id": customer,
		"card_number": testCards[rand.Intn(len(testCards))],
		"expiry":      fmt.Sprintf("%02d/%d", rand.Intn(12)+1, time.Now().Year()+1+rand.Intn(4)),
		"cvv":         "123",
	}, &pm)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", status)
	}
	g.mu.Lock()
	g.methods[customer] = pm.Token
	g.mu.Unlock()
	return nil
}

// randomAmount mostly stays small; a few charges cross the large-amount threshold.
func randomAmount() string {
	cents := rand.Intn(20000) + 1
	if rand.Intn(50) == 0 {
		cents = rand.Intn(3000000) + 1000000
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func (g *generator) charge(ctx context.Context, customer string) {
	g.mu.Lock()
	token := g.methods[customer]
	g.mu.Unlock()
	if token == "" {
		return
	}

	var res struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	}
	status, err := g.post(ctx, "/charges", map[string]any{
		"customer_id":     customer,
		"payment_token":   token,
		"amount":          randomAmount(),
		"currency":        "USD",
		"idempotency_key": uuid.NewString(),
	}, &res)
	if err != nil {
		log.Printf("ERROR: charge failed: %v", err)
		return
	}
	log.Printf("INFO: charge %s customer=%s status=%s http=%d", res.TransactionID, customer, res.Status, status)
	if res.Status == "success" {
		g.mu.Lock()
		g.charges = append(g.charges, res.TransactionID)
		g.mu.Unlock()
	}
}

func (g *generator) refundRandom(ctx context.Context) {
	g.mu.Lock()
	if len(g.charges) == 0 {
		g.mu.Unlock()
		return
	}
	chargeID := g.charges[rand.Intn(len(g.charges))]
	g.mu.Unlock()

	status, err := g.post(ctx, "/charges/"+chargeID+"/refunds", map[string]any{
		"amount": "1.00",
		"reason": faker.Sentence(),
	}, nil)
	if err != nil {
		log.Printf("ERROR: refund failed: %v", err)
		return
	}
	log.Printf("INFO: refund on %s http=%d", chargeID, status)
}
