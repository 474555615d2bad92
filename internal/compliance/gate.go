package compliance

import (
	"strings"

	"apotekpos/backend/internal/domain"
)

// CredentialLength is the fixed length of a registered professional's
// numeric credential.
const CredentialLength = 6

// Gate decides whether a cart needs a prescriber credential and checks
// the credential's format. Staff authorization is a separate
// collaborator; this gate only looks at the string.
type Gate struct{}

// Evaluate reports whether any cart line references a
// prescription-flagged medicine.
func (Gate) Evaluate(medicines map[string]domain.Medicine, lines []domain.CartLine) bool {
	for _, line := range lines {
		if medicines[line.MedicineID].PrescriptionRequired {
			return true
		}
	}
	return false
}

// Validate enforces the credential contract. When required, the
// credential must be exactly CredentialLength digits; missing and
// malformed are distinct rejections. When not required the credential
// is optional and left unvalidated.
func (Gate) Validate(credential string, required bool) error {
	if !required {
		return nil
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return &domain.ComplianceError{Reason: domain.ComplianceMissing}
	}
	if len(credential) != CredentialLength || !digitsOnly(credential) {
		return &domain.ComplianceError{Reason: domain.ComplianceMalformed}
	}
	return nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
