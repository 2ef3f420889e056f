package masking

import "strings"

const maskToken = "****"

// MaskDocument redacts a patient document number, keeping the document type
// prefix and the last four characters so auditors can match records.
func MaskDocument(docType, number string) string {
	number = strings.TrimSpace(number)
	docType = strings.ToUpper(strings.TrimSpace(docType))
	prefix := ""
	if docType != "" {
		prefix = docType + "-"
	}
	if number == "" {
		return prefix + maskToken
	}
	if len(number) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + number[len(number)-4:]
}
