package kafka

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestStockProvisioned_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   StockProvisioned
		wantErr bool
	}{
		{name: "valid", event: StockProvisioned{Reference: "grn-1", ProductID: 1, Quantity: 5}},
		{name: "missing reference", event: StockProvisioned{Reference: "  ", ProductID: 1, Quantity: 5}, wantErr: true},
		{name: "bad product", event: StockProvisioned{Reference: "grn-1", Quantity: 5}, wantErr: true},
		{name: "zero quantity", event: StockProvisioned{Reference: "grn-1", ProductID: 1}, wantErr: true},
		{name: "negative quantity", event: StockProvisioned{Reference: "grn-1", ProductID: 1, Quantity: -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseStockProvisioned(t *testing.T) {
	event, err := ParseStockProvisioned(&sarama.ConsumerMessage{Value: []byte(`{"reference":" grn-9 ","product_id":3,"quantity":2}`)})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Reference != "grn-9" || event.ProductID != 3 || event.Quantity != 2 {
		t.Fatalf("unexpected event: %+v", event)
	}

	if _, err := ParseStockProvisioned(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected parse error")
	}
}
