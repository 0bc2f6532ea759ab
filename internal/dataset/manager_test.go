package dataset_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/kiranshivaraju/windops/internal/dataset"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_NothingLoaded(t *testing.T) {
	m := dataset.NewManager()

	assert.Equal(t, models.SourceNone, m.CurrentSource())
	r := m.RequiredDatasetsReady(models.KindYaw)
	assert.False(t, r.Ready)
	assert.Equal(t, []models.DatasetType{models.DatasetSCADA}, r.Missing)
}

func TestInitDemo_AllAnalysesReady(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()

	assert.Equal(t, models.SourceDemo, m.CurrentSource())
	st := m.Status()
	assert.Len(t, st.Datasets, 5)
	for _, k := range models.Kinds() {
		assert.True(t, st.AnalysisReady[k].Ready, "kind %s", k)
	}
}

func TestUpload_SwitchesToCustom(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()

	info, err := m.Upload(models.DatasetSCADA, strings.NewReader("Wind_turbine_name, Date_time,P_avg\nT1,2024-01-01 00:00,1200\nT1,2024-01-01 00:10,1180\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, info.Rows)
	assert.Equal(t, []string{"Wind_turbine_name", "Date_time", "P_avg"}, info.Columns)
	assert.Equal(t, models.SourceCustom, m.CurrentSource())
	assert.Equal(t, 2, m.Status().Details[models.DatasetSCADA].Rows)
}

func TestUpload_Rejections(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()

	_, err := m.Upload(models.DatasetType("lidar"), strings.NewReader("a\n1\n"))
	assert.ErrorIs(t, err, dataset.ErrUnknownDataset)

	_, err = m.Upload(models.DatasetMeter, strings.NewReader(""))
	assert.ErrorIs(t, err, dataset.ErrEmptyDataset)

	_, err = m.Upload(models.DatasetMeter, strings.NewReader("time,net_energy_kwh\n"))
	assert.ErrorIs(t, err, dataset.ErrEmptyDataset)

	_, err = m.Upload(models.DatasetMeter, strings.NewReader("time,\"net\"x\n1,2\n"))
	assert.ErrorIs(t, err, dataset.ErrMalformedCSV)

	assert.Equal(t, models.SourceDemo, m.CurrentSource(), "failed uploads must not change the source")
}

func TestResetToDemo(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()
	_, err := m.Upload(models.DatasetAsset, strings.NewReader("name,lat\nT1,48.4\n"))
	require.NoError(t, err)
	require.Equal(t, models.SourceCustom, m.CurrentSource())

	m.ResetToDemo()

	assert.Equal(t, models.SourceDemo, m.CurrentSource())
	assert.Equal(t, 4, m.Status().Details[models.DatasetAsset].Rows)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := dataset.NewManager()
	m.InitDemo()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Upload(models.DatasetMeter, strings.NewReader("t,v\n1,2\n"))
		}()
		go func() {
			defer wg.Done()
			_ = m.Status()
			_ = m.RequiredDatasetsReady(models.KindAEP)
		}()
	}
	wg.Wait()
	assert.Equal(t, models.SourceCustom, m.CurrentSource())
}

func TestTemplates(t *testing.T) {
	tpl := dataset.Templates()

	assert.Len(t, tpl, len(models.DatasetTypes()))
	for _, dt := range models.DatasetTypes() {
		assert.NotEmpty(t, tpl[dt].RequiredColumns, "dataset %s", dt)
		assert.NotEmpty(t, tpl[dt].Description, "dataset %s", dt)
	}
	assert.Equal(t, []string{"time", "MMTR_SupWh"}, tpl[models.DatasetMeter].RequiredColumns)

	// Callers get their own copy.
	tpl[models.DatasetMeter].RequiredColumns[0] = "changed"
	assert.Equal(t, "time", dataset.Templates()[models.DatasetMeter].RequiredColumns[0])
}

func TestSummary(t *testing.T) {
	t.Run("nothing loaded", func(t *testing.T) {
		_, err := dataset.NewManager().Summary()
		assert.ErrorIs(t, err, dataset.ErrNoData)
	})

	t.Run("demo plant", func(t *testing.T) {
		m := dataset.NewManager()
		m.InitDemo()

		sum, err := m.Summary()
		require.NoError(t, err)
		assert.Equal(t, "La Haute Borne Wind Farm", sum.Name)
		assert.Equal(t, models.SourceDemo, sum.Source)
		assert.Equal(t, 4, sum.NumTurbines)
		require.NotNil(t, sum.CapacityMW)
		assert.InDelta(t, 8.2, *sum.CapacityMW, 1e-9)
		assert.Equal(t, 1051200, sum.ScadaRows)
		assert.Equal(t, 52560, sum.MeterRows)
		assert.Len(t, sum.Datasets, 5)
	})

	t.Run("custom upload", func(t *testing.T) {
		m := dataset.NewManager()
		m.InitDemo()
		_, err := m.Upload(models.DatasetAsset, strings.NewReader("asset_id,rated_power\nT1,2050\nT2,2050\nT3,2050\n"))
		require.NoError(t, err)

		sum, err := m.Summary()
		require.NoError(t, err)
		assert.Equal(t, "Custom Wind Farm", sum.Name)
		assert.Equal(t, models.SourceCustom, sum.Source)
		assert.Equal(t, 3, sum.NumTurbines)
		assert.Nil(t, sum.CapacityMW)
		assert.Equal(t, []string{"asset_id", "rated_power"}, sum.Datasets[models.DatasetAsset].Columns)
	})
}
