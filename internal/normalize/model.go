package normalize

import (
	"time"

	"github.com/shopspring/decimal"
)

// Struct tags on the record types below are the field mapping table:
//
//	src    provider payload key
//	db     target column
//	num    "precision,scale" for decimal columns
//	int    bit width of an integer column (default 64)
//	len    maximum characters of a VARCHAR column
//	epoch  Unix seconds converted to a calendar date (0 means unknown)
//
// Values that do not fit their column become NULL with a warning.
//
// Fields without a src tag are filled in by Normalize or the coordinator.

// Company is the company row, minus its dimension references.
type Company struct {
	Symbol         string  `db:"symbol"`
	Name           string  `db:"name"`
	ShortName      *string `src:"shortName" db:"short_name" len:"255"`
	LongName       *string `src:"longName" db:"long_name" len:"255"`
	Founded        *int64  `src:"founded" db:"founded" int:"32"`
	TotalEmployees *int64  `src:"fullTimeEmployees" db:"total_employees" int:"32"`
}

// Labels holds the natural labels of the company's dimension references.
type Labels struct {
	Sector            *string `src:"sector" len:"255"`
	Industry          *string `src:"industry" len:"255"`
	Exchange          *string `src:"exchange" len:"255"`
	Currency          *string `src:"currency" len:"10"`
	FinancialCurrency *string `src:"financialCurrency" len:"10"`
}

// Address is the company's postal and contact details.
type Address struct {
	Address1 *string `src:"address1" db:"address1" len:"255"`
	Address2 *string `src:"address2" db:"address2" len:"255"`
	City     *string `src:"city" db:"city" len:"100"`
	Zip      *string `src:"zip" db:"zip" len:"20"`
	Country  *string `src:"country" db:"country" len:"100"`
	Phone    *string `src:"phone" db:"phone" len:"50"`
	Fax      *string `src:"fax" db:"fax" len:"50"`
	Website  *string `src:"website" db:"website" len:"255"`
}

// StockPrice is the latest price snapshot. A nil Date is filled with the
// ingest date by the coordinator.
type StockPrice struct {
	Date             *time.Time       `src:"regularMarketTime" db:"date" epoch:"true"`
	PreviousClose    *decimal.Decimal `src:"previousClose" db:"previous_close" num:"15,2"`
	Open             *decimal.Decimal `src:"open" db:"open" num:"15,2"`
	DayLow           *decimal.Decimal `src:"dayLow" db:"day_low" num:"15,2"`
	DayHigh          *decimal.Decimal `src:"dayHigh" db:"day_high" num:"15,2"`
	CurrentPrice     *decimal.Decimal `src:"currentPrice" db:"current_price" num:"15,2"`
	FiftyTwoWeekLow  *decimal.Decimal `src:"fiftyTwoWeekLow" db:"fifty_two_week_low" num:"15,2"`
	FiftyTwoWeekHigh *decimal.Decimal `src:"fiftyTwoWeekHigh" db:"fifty_two_week_high" num:"15,2"`
	FiftyDayAvg      *decimal.Decimal `src:"fiftyDayAverage" db:"fifty_day_avg" num:"15,2"`
	TwoHundredDayAvg *decimal.Decimal `src:"twoHundredDayAverage" db:"two_hundred_day_avg" num:"15,2"`
	Volume           *int64           `src:"volume" db:"volume"`
	AverageVolume    *int64           `src:"averageVolume" db:"average_volume"`
}

// Financials holds valuation, balance and margin figures.
type Financials struct {
	MarketCap         *decimal.Decimal `src:"marketCap" db:"market_cap" num:"15,2"`
	EnterpriseValue   *decimal.Decimal `src:"enterpriseValue" db:"enterprise_value" num:"15,2"`
	TotalCash         *decimal.Decimal `src:"totalCash" db:"total_cash" num:"15,2"`
	TotalDebt         *decimal.Decimal `src:"totalDebt" db:"total_debt" num:"15,2"`
	TotalRevenue      *decimal.Decimal `src:"totalRevenue" db:"total_revenue" num:"15,2"`
	RevenuePerShare   *decimal.Decimal `src:"revenuePerShare" db:"revenue_per_share" num:"15,2"`
	GrossMargin       *decimal.Decimal `src:"grossMargins" db:"gross_margin" num:"5,2"`
	EbitdaMargin      *decimal.Decimal `src:"ebitdaMargins" db:"ebitda_margin" num:"5,2"`
	OperatingMargin   *decimal.Decimal `src:"operatingMargins" db:"operating_margin" num:"5,2"`
	ProfitMargin      *decimal.Decimal `src:"profitMargins" db:"profit_margin" num:"5,2"`
	BookValue         *decimal.Decimal `src:"bookValue" db:"book_value" num:"15,2"`
	DebtToEquity      *decimal.Decimal `src:"debtToEquity" db:"debt_to_equity_ratio" num:"5,2"`
	CurrentRatio      *decimal.Decimal `src:"currentRatio" db:"current_ratio" num:"5,2"`
	QuickRatio        *decimal.Decimal `src:"quickRatio" db:"quick_ratio" num:"5,2"`
	FreeCashflow      *decimal.Decimal `src:"freeCashflow" db:"free_cashflow" num:"15,2"`
	OperatingCashflow *decimal.Decimal `src:"operatingCashflow" db:"operating_cashflow" num:"15,2"`
}

// Dividend holds dividend policy figures.
type Dividend struct {
	DividendRate                *decimal.Decimal `src:"dividendRate" db:"dividend_rate" num:"5,2"`
	DividendYield               *decimal.Decimal `src:"dividendYield" db:"dividend_yield" num:"5,2"`
	PayoutRatio                 *decimal.Decimal `src:"payoutRatio" db:"payout_ratio" num:"5,2"`
	ExDividendDate              *time.Time       `src:"exDividendDate" db:"ex_dividend_date" epoch:"true"`
	FiveYearAvgDividendYield    *decimal.Decimal `src:"fiveYearAvgDividendYield" db:"five_year_avg_dividend_yield" num:"5,2"`
	TrailingAnnualDividendRate  *decimal.Decimal `src:"trailingAnnualDividendRate" db:"trailing_annual_dividend_rate" num:"5,2"`
	TrailingAnnualDividendYield *decimal.Decimal `src:"trailingAnnualDividendYield" db:"trailing_annual_dividend_yield" num:"5,2"`
}

// RiskMetrics holds governance risk ratings.
type RiskMetrics struct {
	AuditRisk             *decimal.Decimal `src:"auditRisk" db:"audit_risk" num:"5,2"`
	BoardRisk             *decimal.Decimal `src:"boardRisk" db:"board_risk" num:"5,2"`
	CompensationRisk      *decimal.Decimal `src:"compensationRisk" db:"compensation_risk" num:"5,2"`
	ShareholderRightsRisk *decimal.Decimal `src:"shareHolderRightsRisk" db:"shareholder_rights_risk" num:"5,2"`
	OverallRisk           *decimal.Decimal `src:"overallRisk" db:"overall_risk" num:"5,2"`
}

// Officer is one company officer, keyed by name within the company.
type Officer struct {
	Name       string  `db:"name"`
	Title      *string `src:"title" db:"title" len:"255"`
	Age        *int64  `src:"age" db:"age" int:"32"`
	FiscalYear *int64  `src:"fiscalYear" db:"fiscal_year" int:"32"`
	YearBorn   *int64  `src:"yearBorn" db:"year_born" int:"32"`
}

// OfficerCompensation is the pay record of one officer.
type OfficerCompensation struct {
	TotalPay         *decimal.Decimal `src:"totalPay" db:"total_pay" num:"15,2"`
	ExercisedValue   *decimal.Decimal `src:"exercisedValue" db:"exercised_value" num:"15,2"`
	UnexercisedValue *decimal.Decimal `src:"unexercisedValue" db:"unexercised_value" num:"15,2"`
}

// OfficerRecord pairs an officer with their compensation.
type OfficerRecord struct {
	Officer      Officer
	Compensation OfficerCompensation
}

// BalanceSheetRow is one dated balance-sheet report.
type BalanceSheetRow struct {
	Date                   time.Time        `db:"date"`
	CashAndCashEquivalents *decimal.Decimal `src:"Cash And Cash Equivalents" db:"cash_and_cash_equivalents" num:"15,2"`
	ShortTermInvestments   *decimal.Decimal `src:"Other Short Term Investments" db:"short_term_investments" num:"15,2"`
	NetReceivables         *decimal.Decimal `src:"Receivables" db:"net_receivables" num:"15,2"`
	Inventory              *decimal.Decimal `src:"Inventory" db:"inventory" num:"15,2"`
	TotalCurrentAssets     *decimal.Decimal `src:"Current Assets" db:"total_current_assets" num:"15,2"`
	LongTermInvestments    *decimal.Decimal `src:"Long Term Equity Investment" db:"long_term_investments" num:"15,2"`
	PropertyPlantEquipment *decimal.Decimal `src:"Net PPE" db:"property_plant_equipment" num:"15,2"`
	IntangibleAssets       *decimal.Decimal `src:"Goodwill And Other Intangible Assets" db:"intangible_assets" num:"15,2"`
	TotalAssets            *decimal.Decimal `src:"Total Assets" db:"total_assets" num:"15,2"`
	TotalLiabilities       *decimal.Decimal `src:"Total Liabilities Net Minority Interest" db:"total_liabilities" num:"15,2"`
	TotalEquity            *decimal.Decimal `src:"Stockholders Equity" db:"total_equity" num:"15,2"`
}

// Bundle is the normalized form of one provider payload.
type Bundle struct {
	Symbol       string
	Company      Company
	Labels       Labels
	Address      Address
	StockPrice   StockPrice
	Financials   Financials
	Dividend     Dividend
	Risk         RiskMetrics
	Officers     []OfficerRecord
	BalanceSheet []BalanceSheetRow
	Warnings     []string
}
