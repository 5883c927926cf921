package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/models"
)

const (
	// MinTermMonths and MaxTermMonths bound the credit term.
	MinTermMonths = 1
	MaxTermMonths = 36
)

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Amortization is the outcome of the fixed-payment ("Price") formula.
// The monthly payment is rounded to the cent and the totals derived
// from the rounded value, so a schedule of term installments sums to
// exactly TotalPayable.
type Amortization struct {
	Principal      decimal.Decimal
	AnnualRate     decimal.Decimal
	Term           int
	MonthlyPayment decimal.Decimal
	TotalPayable   decimal.Decimal
	TotalInterest  decimal.Decimal
}

// Amortize derives the fixed monthly payment for a principal repaid
// over term months at the given annual percentage rate.
//
//	i = rate/100/12
//	M = P * i * (1+i)^n / ((1+i)^n - 1)   (M = P/n when i == 0)
func Amortize(principal, annualRate decimal.Decimal, term int) (*Amortization, error) {
	if principal.LessThanOrEqual(decimal.Zero) {
		return nil, validationErr("amount", "must be greater than zero")
	}
	if term < MinTermMonths || term > MaxTermMonths {
		return nil, validationErr("term", "must be between 1 and 36 months")
	}
	if annualRate.IsNegative() {
		return nil, validationErr("interest_rate", "must not be negative")
	}

	n := decimal.NewFromInt(int64(term))
	monthlyRate := annualRate.Div(hundred).Div(twelve)

	var payment decimal.Decimal
	if monthlyRate.IsZero() {
		payment = principal.Div(n)
	} else {
		compound := one.Add(monthlyRate).Pow(n)
		payment = principal.Mul(monthlyRate).Mul(compound).Div(compound.Sub(one))
	}

	// Rounding before the multiplication keeps the credit payable in
	// full through its own schedule: term payments of the persisted
	// installment amount reach TotalPayable exactly.
	payment = models.Money(payment)
	total := payment.Mul(n)
	return &Amortization{
		Principal:      principal,
		AnnualRate:     annualRate,
		Term:           term,
		MonthlyPayment: payment,
		TotalPayable:   total,
		TotalInterest:  total.Sub(principal),
	}, nil
}

// BuildSchedule expands an amortization into the credit's installment
// set. Due dates advance one month per period from the approval date.
//
// The principal component is a flat approvedAmount/term per period and
// the interest component the remainder of the monthly payment. The
// split is applied uniformly to every installment of the credit.
func BuildSchedule(credit *models.Credit, amort *Amortization, approvedAt time.Time) []*models.Installment {
	flatPrincipal := amort.Principal.Div(decimal.NewFromInt(int64(amort.Term)))
	amount := models.Money(amort.MonthlyPayment)

	installments := make([]*models.Installment, 0, amort.Term)
	for k := 1; k <= amort.Term; k++ {
		inst := &models.Installment{
			CreditID:      credit.ID,
			InstitutionID: credit.InstitutionID,
			Number:        k,
			DueDate:       approvedAt.AddDate(0, k, 0),
			Amount:        amount,
			Principal:     models.Money(flatPrincipal),
			Interest:      models.Money(amort.MonthlyPayment.Sub(flatPrincipal)),
			LateFee:       decimal.Zero,
			TotalAmount:   amount,
			PaidAmount:    decimal.Zero,
			Status:        models.InstallmentPending,
		}
		installments = append(installments, inst)
	}
	return installments
}
