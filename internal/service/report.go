package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
)

// DailyReport summarizes the transactions created on date (UTC). A sale
// voided later still belongs to the day it was rung up.
func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, err := s.parseDay(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{
		Date:              from.Format(domain.DateLayout),
		GrossSales:        decimal.Zero,
		CostOfGoods:       decimal.Zero,
		VoidedAmount:      decimal.Zero,
		RefundedAmount:    decimal.Zero,
		DebtPayments:      decimal.Zero,
		DebtSales:         decimal.Zero,
		PaymentBreakdown:  map[string]decimal.Decimal{},
		StaffCommissions:  []domain.StaffCommission{},
		TransactionsCount: len(txs),
	}
	commissions := map[string]decimal.Decimal{}

	for _, tx := range txs {
		if tx.Type == domain.TxTypeDebtPayment {
			if tx.Status == domain.TxStatusPaid {
				report.DebtPayments = report.DebtPayments.Add(tx.Total)
				addTo(report.PaymentBreakdown, tx.PaymentMethod, tx.Total)
			}
			continue
		}

		switch tx.Status {
		case domain.TxStatusVoid:
			report.Voids++
			report.VoidedAmount = report.VoidedAmount.Add(tx.Total)
			continue
		case domain.TxStatusRefunded:
			report.Refunds++
			report.RefundedAmount = report.RefundedAmount.Add(tx.Total)
			continue
		}

		report.Sales++
		report.GrossSales = report.GrossSales.Add(tx.Total)
		report.PointsEarned += tx.PointsEarned
		addTo(report.PaymentBreakdown, tx.PaymentMethod, tx.Total)
		if tx.PaymentMethod == domain.PaymentDebt {
			report.DebtSales = report.DebtSales.Add(tx.Total)
		}

		for _, item := range tx.Items {
			report.CostOfGoods = report.CostOfGoods.Add(item.TotalCost)
			if len(item.CommissionDetails) > 0 {
				for _, alloc := range item.CommissionDetails {
					addTo(commissions, alloc.StaffID, alloc.Fee)
				}
				continue
			}
			if item.StaffID != "" && item.Fee.IsPositive() {
				addTo(commissions, item.StaffID, item.Fee)
			}
		}
	}

	report.GrossMargin = report.GrossSales.Sub(report.CostOfGoods)
	for staffID, total := range commissions {
		report.StaffCommissions = append(report.StaffCommissions, domain.StaffCommission{StaffID: staffID, Total: total})
	}
	sort.Slice(report.StaffCommissions, func(i, j int) bool {
		return report.StaffCommissions[i].StaffID < report.StaffCommissions[j].StaffID
	})
	return report, nil
}

func addTo(totals map[string]decimal.Decimal, key string, amount decimal.Decimal) {
	totals[key] = totals[key].Add(amount)
}
