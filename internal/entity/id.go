package entity

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IDFormat classifies the structure of an identifier. Two records describing
// the same item but carrying different formats were created independently,
// typically one offline and one on the server.
type IDFormat int

const (
	IDFormatOther   IDFormat = iota // anything not matched below
	IDFormatUUID                    // canonical RFC 4122 form
	IDFormatNumeric                 // server-assigned integer
	IDFormatLocal                   // client placeholder: "local-..." or "temp-..."
)

// uuidStringLen is the length of the canonical hyphenated UUID form.
// uuid.Parse also accepts braced and urn-prefixed variants, which are not
// canonical here.
const uuidStringLen = 36

// localIDPrefixes mark identifiers minted by clients before the server saw them.
var localIDPrefixes = []string{"local-", "local_", "temp-", "temp_", "tmp-"}

func (f IDFormat) String() string {
	switch f {
	case IDFormatUUID:
		return "uuid"
	case IDFormatNumeric:
		return "numeric"
	case IDFormatLocal:
		return "local"
	default:
		return "other"
	}
}

// NewID returns a fresh canonical identifier.
func NewID() string {
	return uuid.NewString()
}

// ClassifyID reports the structural format of id.
func ClassifyID(id string) IDFormat {
	if len(id) == uuidStringLen {
		if _, err := uuid.Parse(id); err == nil {
			return IDFormatUUID
		}
	}

	lower := strings.ToLower(id)
	for _, p := range localIDPrefixes {
		if strings.HasPrefix(lower, p) {
			return IDFormatLocal
		}
	}

	if id != "" && strings.Trim(id, "0123456789") == "" {
		return IDFormatNumeric
	}

	return IDFormatOther
}

// IsCanonicalID reports whether id is in the canonical UUID form.
func IsCanonicalID(id string) bool {
	return ClassifyID(id) == IDFormatUUID
}

// NormalizeTitle folds a title for duplicate matching: Unicode NFC, case
// folding, and collapsed whitespace.
func NormalizeTitle(s string) string {
	folded := cases.Fold().String(norm.NFC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}
