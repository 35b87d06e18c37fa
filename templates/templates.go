// Package templates registers custom Handlebars helpers used by config
// templating: random identifiers for unique test data and fake personal
// data for realistic conversation payloads.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

var registerOnce sync.Once

// RegisterHelpers installs the helpers into raymond's global registry.
// Safe to call more than once; registration happens a single time.
func RegisterHelpers() {
	registerOnce.Do(registerHelpers)
}

func registerHelpers() {
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) string {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "" {
			randomType = "ALPHANUMERIC"
		}
		if randomType == "UUID" {
			return uuid.New().String()
		}

		length := 10
		if lengthVal := options.HashProp("length"); lengthVal != nil {
			if l := toInt(lengthVal); l > 0 {
				length = l
			}
		}

		var result string
		switch randomType {
		case "ALPHABETIC":
			result = randomString(alphabeticChars, length)
		case "NUMERIC":
			result = randomString(numericChars, length)
		case "HEXADECIMAL":
			result = randomString(hexChars, length)
		default:
			result = randomString(alphanumericChars, length)
		}

		if raymond.IsTrue(options.HashProp("uppercase")) {
			result = strings.ToUpper(result)
		}
		return result
	})

	raymond.RegisterHelper("randomInt", func(options *raymond.Options) string {
		lower, upper := 0, 100
		if v := options.HashProp("lower"); v != nil {
			lower = toInt(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return "0"
		}
		return fmt.Sprintf("%d", int(num.Int64())+lower)
	})

	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		now := time.Now().UTC()
		switch options.HashStr("format") {
		case "epoch":
			return fmt.Sprintf("%d", now.UnixMilli())
		case "unix":
			return fmt.Sprintf("%d", now.Unix())
		default:
			return now.Format(time.RFC3339)
		}
	})

	raymond.RegisterHelper("fakeValue", func(key string) string {
		f := gofakeit.New(0)
		switch strings.ToLower(key) {
		case "first_name":
			return f.FirstName()
		case "last_name":
			return f.LastName()
		case "full_name":
			return f.Name()
		case "email":
			return f.Email()
		case "phone":
			return f.Phone()
		case "city":
			return f.City()
		case "street":
			return f.Street()
		case "country":
			return f.Country()
		case "company":
			return f.Company()
		case "credit_card":
			return f.CreditCardNumber(nil)
		case "sentence":
			return f.Sentence(8)
		default:
			return key
		}
	})
}

func randomString(charset string, length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = charset[0]
			continue
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}

func toInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var i int
		fmt.Sscanf(v, "%d", &i)
		return i
	}
	return 0
}
