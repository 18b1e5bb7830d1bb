package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"radt1cal/internal/config"
)

// WriteScript writes an executable shell script at path.
func WriteScript(t testing.TB, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

// PipelineStubs returns stub script bodies keyed by binary name. Each stub
// copies its image input to the output names the real tool writes, so the
// stubbed pipeline keeps the subject grid end to end.
func PipelineStubs(tools config.Tools) map[string]string {
	return map[string]string{
		tools.Reorient:        `cp "$1" "$2.nii.gz"`,
		tools.BrainExtraction: `cp "$1" "$2.nii.gz" && cp "$1" "$2_mask.nii.gz"`,
		tools.BiasCorrection:  `cp "$4" "$3_restore.nii.gz"`,
		tools.Registration: `fixed=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift ;;
    --metric) [ -z "$fixed" ] && fixed="$2" ;;
  esac
  shift
done
out=${out#\[}; out=${out%\]}
prefix=${out%%,*}
warped=${out#*,}
fixed=${fixed#Mattes\[}; fixed=${fixed%%,*}
echo "affine" > "${prefix}0GenericAffine.mat"
cp "$fixed" "${prefix}1Warp.nii.gz"
cp "$fixed" "$warped"`,
		tools.ApplyTransforms: `while [ $# -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift ;;
    --output) out="$2"; shift ;;
  esac
  shift
done
cp "$in" "$out"`,
		tools.Radiomics: `while [ $# -gt 0 ]; do
  case "$1" in
    --out) out="$2"; shift ;;
  esac
  shift
done
echo '{"diagnostics_Versions_PyRadiomics": "3.1.0", "original_firstorder_Mean": 100.0, "original_shape_VoxelVolume": 8.0}' > "$out"`,
	}
}
