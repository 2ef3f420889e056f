package testutil

import (
	"time"

	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
)

// BaseTime anchors fixture dates.
var BaseTime = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func Ptr[T any](v T) *T {
	return &v
}

// CleanClaim returns a request with one identified patient and one authorized
// procedure, which no default pre-audit rule flags.
func CleanClaim(invoice string) claimdomain.SaveRequest {
	return claimdomain.SaveRequest{
		InvoiceNumber: invoice,
		ProviderNit:   "900123456",
		ProviderName:  "IPS Central",
		IssuedAt:      Ptr(BaseTime.Add(48 * time.Hour)),
		ReceivedAt:    Ptr(BaseTime.Add(72 * time.Hour)),
		Users: []claimdomain.PatientRecord{
			{
				DocumentType:   "CC",
				DocumentNumber: "1020304050",
				Services: claimdomain.ServiceBundle{
					Procedures: []claimdomain.ServiceLine{
						{
							ServiceCode:         "890201",
							ServiceDate:         BaseTime,
							BilledValue:         100_000,
							AuthorizationNumber: Ptr("AUT-001"),
						},
					},
				},
			},
		},
	}
}

// ClaimWithServices returns a request whose single patient carries n
// unauthorized procedures, each flagged by the missing authorization rule.
func ClaimWithServices(invoice string, n int) claimdomain.SaveRequest {
	req := CleanClaim(invoice)
	lines := make([]claimdomain.ServiceLine, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, claimdomain.ServiceLine{
			ServiceCode: "8902" + string(rune('A'+i%26)),
			ServiceDate: BaseTime.Add(time.Duration(i) * time.Minute),
			BilledValue: int64(10_000 * (i + 1)),
		})
	}
	req.Users[0].Services.Procedures = lines
	return req
}
