// Package catalogtest provides a small, fixed catalog for tests.
package catalogtest

import (
	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
)

func arity(n int) *int { return &n }

var regular = []domain.Scope{domain.ScopeRegular}

// Operators returns the fixture operators.
func Operators() []domain.Operator {
	return []domain.Operator{
		{Name: "rank", Category: "Cross Sectional", Scopes: regular, ArityHint: arity(1), Description: "cross sectional rank"},
		{Name: "zscore", Category: "Cross Sectional", Scopes: regular, ArityHint: arity(1), Description: "cross sectional z score"},
		{Name: "scale", Category: "Cross Sectional", Scopes: regular, ArityHint: arity(1), Description: "scale to book size"},
		{Name: "ts_delta", Category: "Time Series", Scopes: regular, ArityHint: arity(2), Description: "difference over a lookback window"},
		{Name: "ts_mean", Category: "Time Series", Scopes: regular, ArityHint: arity(2), Description: "rolling mean over window"},
		{Name: "ts_std_dev", Category: "Time Series", Scopes: regular, ArityHint: arity(2), Description: "rolling standard deviation"},
		{Name: "ts_rank", Category: "Time Series", Scopes: regular, ArityHint: arity(2), Description: "rank within time series window"},
		{Name: "ts_corr", Category: "Time Series", Scopes: regular, ArityHint: arity(3), Description: "rolling correlation of two series"},
		{Name: "ts_decay_linear", Category: "Time Series", Scopes: regular, ArityHint: arity(2), Description: "linear decay weighted mean"},
		{
			Name: "group_rank", Category: "Group", Scopes: regular, ArityHint: arity(2), Description: "rank within group",
			Params: []domain.Param{
				{Name: "x", Kind: domain.ParamPositional, TypeHint: domain.TypeMatrix},
				{Name: "group", Kind: domain.ParamPositional, TypeHint: domain.TypeGroup},
			},
		},
		{Name: "group_neutralize", Category: "Group", Scopes: regular, ArityHint: arity(2), Description: "neutralize against group mean"},
		{Name: "bucket", Category: "Transformational", Scopes: regular, ArityHint: arity(1), Description: "bucket values into groups"},
		{Name: "vec_sum", Category: "Vector", Scopes: regular, ArityHint: arity(1), Description: "sum of vector field"},
		{Name: "vec_avg", Category: "Vector", Scopes: regular, ArityHint: arity(1), Description: "mean of vector field"},
		{Name: "abs", Category: "Arithmetic", Scopes: regular, ArityHint: arity(1), Description: "absolute value"},
		{Name: "log", Category: "Arithmetic", Description: "natural logarithm"},
		{Name: "signed_power", Category: "Arithmetic", Scopes: []domain.Scope{domain.ScopeRegular, domain.ScopeCombo}, ArityHint: arity(2)},
		{Name: "combo_blend", Category: "Cross Sectional", Scopes: []domain.Scope{domain.ScopeCombo}, ArityHint: arity(1), Description: "blend alphas in combo scope"},
		{Name: "in_selection", Category: "Special", Scopes: []domain.Scope{domain.ScopeSelection}, ArityHint: arity(1)},
		{Name: "trade_when", Category: "Logical", Scopes: regular, ArityHint: arity(3), Description: "conditional trading"},
	}
}

// Datasets returns the fixture datasets.
func Datasets() []domain.Dataset {
	return []domain.Dataset{
		{ID: "pv1", Name: "Price Volume Data", Category: "Price Volume", SubcategoryID: "pv-price-volume", SubcategoryName: "Price Volume", FieldCount: 9, Coverage: 0.99, ValueScore: 5},
		{ID: "pv13", Name: "Relationship Data", Category: "Price Volume", SubcategoryID: "pv-relationship", SubcategoryName: "Relationship", FieldCount: 3, Coverage: 0.95, ValueScore: 2},
		{ID: "fund6", Name: "Fundamental Statements", Category: "Fundamental", SubcategoryID: "fundamental-statements", SubcategoryName: "Statements", FieldCount: 4, Coverage: 0.8, ValueScore: 4},
		{ID: "analyst4", Name: "Analyst Estimates", Category: "Analyst", SubcategoryID: "analyst-estimates", SubcategoryName: "Estimates", FieldCount: 2, Coverage: 0.6, ValueScore: 3},
		{ID: "news12", Name: "News Sentiment", Category: "News", SubcategoryID: "news-sentiment", SubcategoryName: "Sentiment", FieldCount: 2, Coverage: 0.4, ValueScore: 1},
		{ID: "model77", Name: "Risk Model", Category: "Model", SubcategoryID: "model-risk", SubcategoryName: "Risk", FieldCount: 1, Coverage: 0.7, ValueScore: 1},
	}
}

// Fields returns the fixture fields.
func Fields() []domain.Field {
	m := func(id, ds, desc string, alphas int) domain.Field {
		return domain.Field{ID: id, DatasetID: ds, Type: domain.TypeMatrix, Description: desc, Coverage: 0.9, AlphaCount: alphas}
	}
	return []domain.Field{
		m("close", "pv1", "daily close price", 900),
		m("open", "pv1", "daily open price", 700),
		m("high", "pv1", "daily high price", 400),
		m("low", "pv1", "daily low price", 380),
		m("volume", "pv1", "daily traded volume", 650),
		m("returns", "pv1", "daily returns", 800),
		m("vwap", "pv1", "volume weighted average price", 500),
		m("cap", "pv1", "market capitalization", 600),
		m("adv20", "pv1", "average daily volume over 20 days", 300),
		{ID: "industry", DatasetID: "pv13", Type: domain.TypeGroup, Description: "industry classification", AlphaCount: 500},
		{ID: "sector", DatasetID: "pv13", Type: domain.TypeGroup, Description: "sector classification", AlphaCount: 450},
		{ID: "subindustry", DatasetID: "pv13", Type: domain.TypeGroup, Description: "subindustry classification", AlphaCount: 200},
		m("assets", "fund6", "total assets", 150),
		m("liabilities", "fund6", "total liabilities", 120),
		m("sales", "fund6", "revenue sales", 140),
		m("operating_income", "fund6", "operating income", 90),
		m("est_eps", "analyst4", "analyst consensus eps estimate", 60),
		{ID: "anl_rev_count", DatasetID: "analyst4", Type: domain.TypeVector, Description: "analyst revision counts", AlphaCount: 10},
		{ID: "vector_field", DatasetID: "news12", Type: domain.TypeVector, Description: "news sentiment vector", AlphaCount: 5},
		m("news_volume", "news12", "news article volume", 20),
		m("beta_risk", "model77", "model beta risk", 8),
	}
}

// Snapshot builds the fixture catalog. It panics if the fixture is inconsistent.
func Snapshot() *catalog.Snapshot {
	s, err := catalog.NewSnapshot(Operators(), Fields(), Datasets())
	if err != nil {
		panic(err)
	}
	return s
}
