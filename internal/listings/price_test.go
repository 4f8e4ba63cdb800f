package listings

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func applySequence(t *testing.T, start int64, prices []int64) (Property, int) {
	t.Helper()
	property := Property{Price: decimal.NewFromInt(start)}
	fired := 0
	now := time.Unix(1700000000, 0).UTC()
	for index, price := range prices {
		change := DetectPriceChange(property.PriceState(), decimal.NewFromInt(price), now.Add(time.Duration(index)*time.Hour))
		if change.ReductionOccurred {
			fired++
		}
		property.ApplyPriceChange(change)
	}
	return property, fired
}

func TestDetectPriceChangeFiresOnceForRepeatedReduction(t *testing.T) {
	property, fired := applySequence(t, 1000, []int64{900, 900})
	if fired != 1 {
		t.Fatalf("expected exactly one reduction, got %d", fired)
	}
	if property.PriceReduced {
		t.Fatalf("expected the non-reducing update to clear the badge")
	}
	if !property.PreviousPrice.Valid || !property.PreviousPrice.Decimal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected previous price 1000, got %v", property.PreviousPrice)
	}
	if property.PriceReducedAt == nil || !property.PriceReducedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("expected reduction timestamp from the first update, got %v", property.PriceReducedAt)
	}
}

func TestDetectPriceChangeIgnoresIncrease(t *testing.T) {
	property, fired := applySequence(t, 900, []int64{1000})
	if fired != 0 {
		t.Fatalf("expected no reduction, got %d", fired)
	}
	if property.PriceReduced {
		t.Fatalf("expected no reduced badge")
	}
	if property.PreviousPrice.Valid {
		t.Fatalf("expected previous price to stay empty")
	}
	if property.PriceReducedAt != nil {
		t.Fatalf("expected no reduction timestamp")
	}
}

func TestDetectPriceChangeFiresForEachDropAfterRecovery(t *testing.T) {
	property, fired := applySequence(t, 900, []int64{850, 1000, 850})
	if fired != 2 {
		t.Fatalf("expected two reductions, got %d", fired)
	}
	if !property.PreviousPrice.Decimal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected previous price 1000, got %s", property.PreviousPrice.Decimal)
	}
}

func TestDetectPriceChangeClearsBadgeWhenPriceRecovers(t *testing.T) {
	property, _ := applySequence(t, 1000, []int64{900, 1000})
	if property.PriceReduced {
		t.Fatalf("expected badge to clear once price is back to the pre-reduction value")
	}
	if !property.PreviousPrice.Valid || !property.PreviousPrice.Decimal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected previous price to be kept, got %v", property.PreviousPrice)
	}
	if property.PriceReducedAt == nil {
		t.Fatalf("expected reduction timestamp to be kept")
	}
}

func TestDetectPriceChangeBadgeOnlyOnReducingUpdate(t *testing.T) {
	property, _ := applySequence(t, 1000, []int64{900})
	if !property.PriceReduced {
		t.Fatalf("expected badge after a reduction")
	}

	property, _ = applySequence(t, 1000, []int64{800, 950})
	if property.PriceReduced {
		t.Fatalf("expected badge to clear on an increase that stays below the previous price")
	}
	if !property.PreviousPrice.Decimal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected previous price 1000, got %s", property.PreviousPrice.Decimal)
	}
}

func TestPriceChangeSavings(t *testing.T) {
	change := DetectPriceChange(PriceState{Current: decimal.NewFromInt(500000)}, decimal.NewFromInt(450000), time.Now())
	if !change.Savings().Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected savings %s", change.Savings())
	}
	unchanged := DetectPriceChange(PriceState{Current: decimal.NewFromInt(500000)}, decimal.NewFromInt(500000), time.Now())
	if !unchanged.Savings().IsZero() {
		t.Fatalf("expected zero savings without a reduction")
	}
}

func TestPropertyImagesAndSlug(t *testing.T) {
	property := Property{ID: "0190f3a4-aaaa-bbbb-cccc-1234567890ab", Title: "Casa no Lago Sul"}
	property.SetImages([]string{" ", "properties/1/capa.jpg", "https://cdn.example.com/2.jpg"})

	if got := property.PrimaryImage(); got != "properties/1/capa.jpg" {
		t.Fatalf("unexpected primary image %q", got)
	}
	if len(property.Images()) != 2 {
		t.Fatalf("expected blank image entries to be dropped, got %v", property.Images())
	}

	property.EnsureSlug()
	if property.Slug != "casa-no-lago-sul-567890ab" {
		t.Fatalf("unexpected slug %q", property.Slug)
	}

	property.Slug = "custom"
	property.EnsureSlug()
	if property.Slug != "custom" {
		t.Fatalf("expected existing slug to be kept")
	}

	broken := Property{ImagesJSON: "not-json"}
	if broken.Images() != nil {
		t.Fatalf("expected malformed image payload to decode as empty")
	}
}
