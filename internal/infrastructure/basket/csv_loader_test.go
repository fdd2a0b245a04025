package basket

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const basketCSV = `product_name,current_supermarket,current_regular_price,current_membership_price
Coke,Tesco,£1.50,£1.25
Heinz Baked Beans 415g,Aldi,0.95,
,Lidl,1.00,
"Ferrero Raffaello, 230G",Sainsburys,4.50,n/a
`

func TestParse(t *testing.T) {
	products, err := Parse(context.Background(), strings.NewReader(basketCSV))
	require.NoError(t, err)
	require.Len(t, products, 3, "row without a name is skipped")

	coke := products[0]
	assert.Equal(t, "Coke", coke.Name)
	assert.Equal(t, "Tesco", coke.CurrentRetailer)
	require.True(t, coke.CurrentRegularPrice.Valid)
	assert.True(t, coke.CurrentRegularPrice.Decimal.Equal(decimal.RequireFromString("1.50")))
	require.True(t, coke.CurrentMembershipPrice.Valid)
	assert.True(t, coke.CurrentMembershipPrice.Decimal.Equal(decimal.RequireFromString("1.25")))

	beans := products[1]
	assert.True(t, beans.CurrentRegularPrice.Valid)
	assert.False(t, beans.CurrentMembershipPrice.Valid, "empty membership price is absent")

	ferrero := products[2]
	assert.Equal(t, "Ferrero Raffaello, 230G", ferrero.Name)
	assert.False(t, ferrero.CurrentMembershipPrice.Valid, "unparsable price is absent")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty file", ""},
		{"missing column", "product_name,current_supermarket,current_regular_price\nCoke,Tesco,1.50\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParse_ReferenceImageColumn(t *testing.T) {
	input := "\ufeffProduct_Name,Current_Supermarket,Current_Regular_Price,Current_Membership_Price,Reference_Image\n" +
		"Coke,Tesco,1.50,,coke.png\n"

	products, err := Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, domain.ImageHandle("coke.png"), products[0].ReferenceImage)
}

type fakeImages map[string]domain.ImageHandle

func (f fakeImages) Lookup(product, retailer string) (domain.ImageHandle, bool) {
	h, ok := f[product+"|"+retailer]
	return h, ok
}

type fakeCapturer struct {
	calls []string
	err   error
}

func (f *fakeCapturer) CaptureReference(ctx context.Context, product, retailer string) (domain.ImageHandle, error) {
	f.calls = append(f.calls, product)
	if f.err != nil {
		return "", f.err
	}
	return domain.ImageHandle("captured_" + product + ".png"), nil
}

func writeBasket(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadProducts(t *testing.T) {
	ctx := context.Background()
	content := "product_name,current_supermarket,current_regular_price,current_membership_price\n" +
		"Coke,Tesco,1.50,\n" +
		"Milk,Aldi,0.95,\n"

	t.Run("stored image first, capture otherwise", func(t *testing.T) {
		capturer := &fakeCapturer{}
		loader := NewLoader(LoaderConfig{
			Path:     writeBasket(t, content),
			Images:   fakeImages{"Coke|Tesco": "Coke_Tesco.png"},
			Capturer: capturer,
		})

		products, err := loader.LoadProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, domain.ImageHandle("Coke_Tesco.png"), products[0].ReferenceImage)
		assert.Equal(t, domain.ImageHandle("captured_Milk.png"), products[1].ReferenceImage)
		assert.Equal(t, []string{"Milk"}, capturer.calls)
	})

	t.Run("capture failure leaves product without reference", func(t *testing.T) {
		loader := NewLoader(LoaderConfig{
			Path:     writeBasket(t, content),
			Capturer: &fakeCapturer{err: errors.New("storefront down")},
		})

		products, err := loader.LoadProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Empty(t, products[0].ReferenceImage)
	})

	t.Run("missing file", func(t *testing.T) {
		loader := NewLoader(LoaderConfig{Path: filepath.Join(t.TempDir(), "absent.csv")})
		_, err := loader.LoadProducts(ctx)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
