package adaptations_test

import (
	"context"
	"testing"

	"candiag/adaptations"
	"candiag/backup"
	"candiag/datasets"
	"candiag/uds"

	"github.com/stretchr/testify/require"
)

// fakeECU is a minimal in-memory stand-in for a uds.Client: a single DID
// holds a single byte that WriteSetting reads, overwrites, and reads back.
type fakeECU struct {
	values map[uint16][]byte
	secOK  bool
}

func newFakeECU() *fakeECU {
	return &fakeECU{values: map[uint16][]byte{0x1600: {0x00}}}
}

func (f *fakeECU) ReadDataByIdentifier(_ context.Context, did uint16) ([]byte, error) {
	v, ok := f.values[did]
	if !ok {
		return nil, &uds.NegativeResponseError{ServiceID: 0x22, NRC: 0x31}
	}
	return append([]byte(nil), v...), nil
}

func (f *fakeECU) WriteDataByIdentifier(_ context.Context, did uint16, value []byte) error {
	if !f.secOK {
		return &uds.NegativeResponseError{ServiceID: 0x2E, NRC: 0x33}
	}
	f.values[did] = append([]byte(nil), value...)
	return nil
}

func (f *fakeECU) SecurityAccessRequestSeed(_ context.Context, level byte) ([]byte, error) {
	return []byte{0xAA, 0xBB}, nil
}

func (f *fakeECU) SecurityAccessSendKey(_ context.Context, level byte, key []byte) error {
	f.secOK = true
	return nil
}

func daylightRunningLampSpec() datasets.AdaptSettingSpec {
	return datasets.AdaptSettingSpec{
		Key:   "drl_enable",
		Label: "Daytime Running Lamps",
		Kind:  datasets.AdaptKindBool,
		Read:  datasets.RwRef{Service: "did", ID: 0x1600},
		Write: datasets.RwRef{Service: "did", ID: 0x1600},
		Risk:  datasets.RiskSafe,
	}
}

func newManager(t *testing.T) (*adaptations.Manager, *fakeECU) {
	t.Helper()
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	m := adaptations.NewManager(store)
	m.LoadProfile("01", &datasets.AdaptationsProfile{
		ECU:      "01",
		ECUName:  "Engine",
		Settings: []datasets.AdaptSettingSpec{daylightRunningLampSpec()},
	})
	return m, newFakeECU()
}

func TestWriteSettingSafeModeBoolTrue(t *testing.T) {
	m, ecu := newManager(t)
	ecu.secOK = true // no security gate needed for this safe-mode setting

	report, err := m.WriteSetting(context.Background(), ecu, ecu, "01", "drl_enable", "true", adaptations.ModeSafe, nil, nil)
	require.NoError(t, err)

	require.Equal(t, "000001", report.BackupID)
	require.Equal(t, "00", report.Old.Raw)
	require.Equal(t, "false", report.Old.Value)
	require.Equal(t, "01", report.New.Raw)
	require.Equal(t, "true", report.New.Value)
	require.Equal(t, adaptations.ModeSafe, report.Mode)
}

func TestWriteSettingSafeModeRejectsRiskySetting(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	m := adaptations.NewManager(store)
	risky := daylightRunningLampSpec()
	risky.Key = "turbo_boost"
	risky.Risk = datasets.RiskRisky
	m.LoadProfile("01", &datasets.AdaptationsProfile{ECU: "01", Settings: []datasets.AdaptSettingSpec{risky}})
	ecu := newFakeECU()
	ecu.secOK = true

	_, err = m.WriteSetting(context.Background(), ecu, ecu, "01", "turbo_boost", "true", adaptations.ModeSafe, nil, nil)
	require.Error(t, err)
}

func TestWriteSettingPerformsSecurityUnlockWhenRequested(t *testing.T) {
	m, ecu := newManager(t)
	require.False(t, ecu.secOK)

	level := byte(0x01)
	algo := func(seed []byte, level byte) ([]byte, error) {
		key := make([]byte, len(seed))
		for i, b := range seed {
			key[i] = b ^ 0xFF
		}
		return key, nil
	}

	_, err := m.WriteSetting(context.Background(), ecu, ecu, "01", "drl_enable", "true", adaptations.ModeSafe, &level, algo)
	require.NoError(t, err)
	require.True(t, ecu.secOK)
}

func TestWriteSettingWithoutUnlockFailsWithSecurityError(t *testing.T) {
	m, ecu := newManager(t)
	_, err := m.WriteSetting(context.Background(), ecu, ecu, "01", "drl_enable", "true", adaptations.ModeSafe, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "security access required")
}

func TestRevertRestoresOldValue(t *testing.T) {
	m, ecu := newManager(t)
	ecu.secOK = true

	report, err := m.WriteSetting(context.Background(), ecu, ecu, "01", "drl_enable", "true", adaptations.ModeSafe, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, ecu.values[0x1600])

	revert, err := m.Revert(context.Background(), ecu, report.BackupID)
	require.NoError(t, err)
	require.Equal(t, "00", revert.RestoredHex)
	require.Equal(t, []byte{0x00}, ecu.values[0x1600])
}

func TestWriteRawRequiresUnsafeMode(t *testing.T) {
	m, ecu := newManager(t)
	ecu.secOK = true
	_, err := m.WriteRaw(context.Background(), ecu, "01", 0x1600, "01", adaptations.ModeSafe)
	require.Error(t, err)

	report, err := m.WriteRaw(context.Background(), ecu, "01", 0x1600, "01", adaptations.ModeUnsafe)
	require.NoError(t, err)
	require.Equal(t, "01", report.New.Raw)
}

func TestEnumSettingEncodesByLabelOrNumber(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	m := adaptations.NewManager(store)
	spec := datasets.AdaptSettingSpec{
		Key:  "headlight_mode",
		Kind: datasets.AdaptKindEnum,
		Read: datasets.RwRef{Service: "did", ID: 0x1700},
		Write: datasets.RwRef{Service: "did", ID: 0x1700},
		Risk: datasets.RiskSafe,
		Enum: map[string]string{"0": "off", "1": "auto", "2": "on"},
	}
	m.LoadProfile("02", &datasets.AdaptationsProfile{ECU: "02", Settings: []datasets.AdaptSettingSpec{spec}})
	ecu := newFakeECU()
	ecu.values[0x1700] = []byte{0x00}
	ecu.secOK = true

	report, err := m.WriteSetting(context.Background(), ecu, ecu, "02", "headlight_mode", "auto", adaptations.ModeSafe, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "01", report.New.Raw)
	require.Equal(t, "auto", report.New.Value)
}
