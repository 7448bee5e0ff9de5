package domain

// RiskLevel is the human-readable band for a risk score.
type RiskLevel string

const (
	RiskVeryHigh RiskLevel = "Very High"
	RiskHigh     RiskLevel = "High"
	RiskMedium   RiskLevel = "Medium"
	RiskLow      RiskLevel = "Low"
	RiskVeryLow  RiskLevel = "Very Low"
)

// RiskLevels lists every level from most to least severe.
var RiskLevels = []RiskLevel{RiskVeryHigh, RiskHigh, RiskMedium, RiskLow, RiskVeryLow}

// ScoreResult is the fused outcome of rule evaluation and model prediction.
type ScoreResult struct {
	RiskScore      int             `json:"riskScore"`
	RiskLevel      RiskLevel       `json:"riskLevel"`
	RuleScore      int             `json:"ruleScore"`
	MLScore        int             `json:"mlScore"`
	TriggeredRules []TriggeredRule `json:"triggeredRules"`

	// Model names the estimator that produced MLScore; Fallback is set
	// when the heuristic stood in for it.
	Model    string `json:"model"`
	Fallback bool   `json:"fallback"`
}
