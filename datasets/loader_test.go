package datasets_test

import (
	"os"
	"path/filepath"
	"testing"

	"candiag/datasets"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadManifestValid(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vag", "manifest.json"), `{"brand":"vag","version":"1.0","type":"datasets"}`)
	l := datasets.NewLoader(root)
	m, err := l.LoadManifest("vag")
	require.NoError(t, err)
	require.Equal(t, "vag", m.Brand)
	require.Equal(t, "datasets", m.Type)
}

func TestLoadManifestRejectsUnknownKey(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vag", "manifest.json"), `{"brand":"vag","version":"1.0","type":"datasets","bogus":1}`)
	l := datasets.NewLoader(root)
	_, err := l.LoadManifest("vag")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestLoadManifestMissingFile(t *testing.T) {
	root := t.TempDir()
	l := datasets.NewLoader(root)
	_, err := l.LoadManifest("vag")
	require.Error(t, err)
}

func TestLoadAdaptationsProfileValid(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vag", "adaptations", "01.json"), `{
		"ecu":"01","ecu_name":"Engine",
		"settings":[{
			"key":"drl","label":"Daytime running lights","kind":"bool",
			"read":{"service":"did","id":4096},
			"write":{"service":"did","id":4096},
			"risk":"safe","needs_security_access":false
		}]
	}`)
	l := datasets.NewLoader(root)
	p, err := l.LoadAdaptationsProfile("vag", "01")
	require.NoError(t, err)
	require.Equal(t, "01", p.ECU)
	require.Len(t, p.Settings, 1)
	require.Equal(t, datasets.AdaptKindBool, p.Settings[0].Kind)
	require.Equal(t, datasets.RiskSafe, p.Settings[0].Risk)
}

func TestLoadAdaptationsProfileRejectsBadLabelPunctuation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vag", "adaptations", "01.json"), `{
		"ecu":"01","ecu_name":"Engine",
		"settings":[{
			"key":"drl","label":"Daytime running lights.","kind":"bool",
			"read":{"service":"did","id":4096},
			"write":{"service":"did","id":4096},
			"risk":"safe","needs_security_access":false
		}]
	}`)
	l := datasets.NewLoader(root)
	_, err := l.LoadAdaptationsProfile("vag", "01")
	require.Error(t, err)
}

func TestLoadLongCodingProfileRejectsByteCrossingField(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vag", "longcoding", "01.json"), `{
		"ecu":"01","ecu_name":"Engine","did":"0A10","length":5,
		"fields":[{
			"key":"f1","label":"Field one","kind":"u8","risk":"risky",
			"byte":0,"bit":6,"len":4,"needs_security_access":false
		}]
	}`)
	l := datasets.NewLoader(root)
	_, err := l.LoadLongCodingProfile("vag", "01")
	require.Error(t, err)
}
