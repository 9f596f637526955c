// Package loyalty реализует расчёт баллов лояльности, пересчёт уровня и обмен баллов на деньги.
// Все функции детерминированы и не обращаются к хранилищу.
package loyalty

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

// PointsPerCurrencyUnit задаёт курс обмена: 4 балла за 1 единицу валюты.
const PointsPerCurrencyUnit = 4

var (
	// ErrInvalidPoints возвращается, если количество баллов не положительно или не кратно курсу обмена.
	ErrInvalidPoints = errors.New("points must be positive and divisible by 4")
	// ErrInsufficientPoints возвращается при попытке списать больше баллов, чем есть на счёте.
	ErrInsufficientPoints = errors.New("insufficient points balance")
)

// Доля суммы заказа, начисляемая баллами до применения множителей.
var baseRate = decimal.NewFromFloat(0.10)

var typeRates = map[model.RestaurantType]decimal.Decimal{
	model.RestaurantQSR:        decimal.NewFromInt(1),
	model.RestaurantFastFood:   decimal.NewFromInt(1),
	model.RestaurantCasual:     decimal.NewFromFloat(1.25),
	model.RestaurantFineDining: decimal.NewFromFloat(1.5),
	model.RestaurantLuxury:     decimal.NewFromInt(2),
}

var tierRates = map[model.Tier]decimal.Decimal{
	model.TierBronze:   decimal.NewFromInt(1),
	model.TierSilver:   decimal.NewFromFloat(1.25),
	model.TierGold:     decimal.NewFromFloat(1.5),
	model.TierPlatinum: decimal.NewFromInt(2),
}

type threshold struct {
	tier   model.Tier
	points int64
}

// thresholds упорядочены по убыванию.
var thresholds = []threshold{
	{model.TierPlatinum, 10000},
	{model.TierGold, 5000},
	{model.TierSilver, 2000},
	{model.TierBronze, 0},
}

// Points возвращает количество баллов за оплаченный заказ:
// floor(amount * 0.10 * ставка_типа * ставка_уровня).
// Неизвестный тип ресторана или уровень считаются со ставкой 1.
func Points(amount decimal.Decimal, rt model.RestaurantType, tier model.Tier) int64 {
	if !amount.IsPositive() {
		return 0
	}
	typeRate, ok := typeRates[rt]
	if !ok {
		typeRate = decimal.NewFromInt(1)
	}
	tierRate, ok := tierRates[tier]
	if !ok {
		tierRate = decimal.NewFromInt(1)
	}
	return amount.Mul(baseRate).Mul(typeRate).Mul(tierRate).Floor().IntPart()
}

// TierFor возвращает наивысший уровень, порог которого покрыт суммой заработанных баллов.
func TierFor(lifetimeEarned int64) model.Tier {
	for _, t := range thresholds {
		if lifetimeEarned >= t.points {
			return t.tier
		}
	}
	return model.TierBronze
}

// NextThreshold возвращает следующий уровень и его порог. Для platinum ok == false.
func NextThreshold(tier model.Tier) (next model.Tier, points int64, ok bool) {
	for i := len(thresholds) - 1; i > 0; i-- {
		if thresholds[i].tier == tier {
			return thresholds[i-1].tier, thresholds[i-1].points, true
		}
	}
	return "", 0, false
}

// Accrue начисляет баллы на счёт и пересчитывает уровень.
func Accrue(acct *model.LoyaltyAccount, points int64, now time.Time) {
	if points > 0 {
		acct.PointsBalance += points
		acct.LifetimeEarned += points
		acct.LastEarnedAt = &now
	}
	acct.CurrentTier = TierFor(acct.LifetimeEarned)
}

// ValidateRedemption проверяет количество баллов к обмену без учёта баланса.
func ValidateRedemption(points int64) error {
	if points <= 0 || points%PointsPerCurrencyUnit != 0 {
		return ErrInvalidPoints
	}
	return nil
}

// Redeem списывает баллы со счёта и возвращает сумму зачисления в кошелёк.
// При ошибке счёт не изменяется.
func Redeem(acct *model.LoyaltyAccount, points int64, now time.Time) (decimal.Decimal, error) {
	if err := ValidateRedemption(points); err != nil {
		return decimal.Zero, err
	}
	if points > acct.PointsBalance {
		return decimal.Zero, ErrInsufficientPoints
	}

	acct.PointsBalance -= points
	acct.LifetimeRedeemed += points
	acct.LastRedeemedAt = &now

	return RedemptionValue(points), nil
}

// RedemptionValue переводит баллы в денежную сумму с округлением вниз.
func RedemptionValue(points int64) decimal.Decimal {
	return decimal.NewFromInt(points / PointsPerCurrencyUnit)
}
