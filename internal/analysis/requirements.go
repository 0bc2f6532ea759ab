package analysis

import "github.com/kiranshivaraju/windops/pkg/models"

// Requirement lists the datasets an analysis needs before it may start.
type Requirement struct {
	Datasets    []models.DatasetType
	Description string
}

var requirements = map[models.AnalysisKind]Requirement{
	models.KindAEP: {
		Datasets:    []models.DatasetType{models.DatasetSCADA, models.DatasetMeter, models.DatasetReanalysis},
		Description: "Monte Carlo AEP needs SCADA, revenue meter and reanalysis data (curtailment optional)",
	},
	models.KindElectricalLosses: {
		Datasets:    []models.DatasetType{models.DatasetSCADA, models.DatasetMeter},
		Description: "Electrical losses compare turbine SCADA energy with revenue meter energy",
	},
	models.KindTurbineEnergy: {
		Datasets:    []models.DatasetType{models.DatasetSCADA, models.DatasetReanalysis},
		Description: "Long-term turbine gross energy needs SCADA and reanalysis data",
	},
	models.KindWake: {
		Datasets:    []models.DatasetType{models.DatasetSCADA, models.DatasetAsset, models.DatasetReanalysis},
		Description: "Wake losses need SCADA, turbine asset coordinates and reanalysis data",
	},
	models.KindGap: {
		Datasets:    []models.DatasetType{models.DatasetSCADA},
		Description: "EYA gap analysis compares pre-construction estimates with operational results",
	},
	models.KindYaw: {
		Datasets:    []models.DatasetType{models.DatasetSCADA},
		Description: "Static yaw misalignment needs turbine SCADA with wind vane data",
	},
}

// RequirementFor returns the dataset requirement of kind.
func RequirementFor(kind models.AnalysisKind) Requirement {
	return requirements[kind]
}
