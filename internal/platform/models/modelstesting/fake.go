package modelstesting

import (
	"math/rand"

	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/go-faker/faker/v4"
	"github.com/samber/lo"
)

// FakeDeal returns models.Deal with fake data.
func FakeDeal(ops ...func(d *models.Deal)) models.Deal {
	price := int64(rand.Intn(100_000) + 1)
	original := price + int64(rand.Intn(50_000))

	deal := models.Deal{
		ShopID:             int64(rand.Intn(100) + 1),
		ExternalID:         faker.UUIDDigit(),
		Title:              faker.Sentence(),
		DealURL:            faker.URL(),
		ImageURL:           lo.ToPtr(faker.URL()),
		DealPrice:          price,
		OriginalPrice:      &original,
		DiscountPercentage: rand.Intn(100),
		DealType:           models.DealTypePriceDrop,
	}

	for _, op := range ops {
		op(&deal)
	}

	return deal
}

// FakeRawListing returns models.RawListing with fake data.
func FakeRawListing(ops ...func(l *models.RawListing)) models.RawListing {
	listing := models.RawListing{
		ExternalID:    faker.UUIDDigit(),
		Title:         faker.Sentence(),
		URL:           faker.URL(),
		ImageURL:      faker.URL(),
		Price:         "12,900원",
		OriginalPrice: "19,900원",
		CategoryLabel: faker.Word(),
	}

	for _, op := range ops {
		op(&listing)
	}

	return listing
}

// FakeShop returns models.Shop with fake data.
func FakeShop(ops ...func(s *models.Shop)) models.Shop {
	shop := models.Shop{
		ID:       int64(rand.Intn(100) + 1),
		Slug:     faker.Username(),
		Name:     faker.Name(),
		Currency: "KRW",
		Active:   true,
	}

	for _, op := range ops {
		op(&shop)
	}

	return shop
}

// FakeCategory returns models.Category with fake data.
func FakeCategory(ops ...func(c *models.Category)) models.Category {
	category := models.Category{
		ID:   int64(rand.Intn(100) + 1),
		Slug: faker.Username(),
		Name: faker.Word(),
	}

	for _, op := range ops {
		op(&category)
	}

	return category
}
