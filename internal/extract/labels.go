package extract

import "github.com/telhawk-systems/cloudlog/internal/event"

// Binary Authorization admission webhook labels.
const (
	LabelDryRun                 = "imagepolicywebhook.image-policy.k8s.io/dry-run"
	LabelBreakGlass             = "imagepolicywebhook.image-policy.k8s.io/break-glass"
	LabelOverriddenVerification = "imagepolicywebhook.image-policy.k8s.io/overridden-verification-result"
)

// BinaryAuthLabels flags dry-run and break-glass admissions and extracts the image named in an
// overridden verification result. Flags are only ever set to true; absence leaves them unset.
type BinaryAuthLabels struct {
	LabelsField string
	Prefix      string
}

func (b BinaryAuthLabels) Name() string { return "binary_auth_labels" }

func (b BinaryAuthLabels) Run(r *event.Record) error {
	labels, ok := r.Fields.GetMap(b.LabelsField)
	if !ok {
		return nil
	}
	if _, ok := labels[LabelDryRun]; ok {
		r.Put(b.Prefix+".dry_run_denied", true)
	}
	if _, ok := labels[LabelBreakGlass]; ok {
		r.Put(b.Prefix+".breakglass_used", true)
	}
	if result, ok := labels[LabelOverriddenVerification].(string); ok {
		if image, ok := QuotedSubstring(result); ok {
			r.Put(b.Prefix+".image", image)
		}
	}
	return nil
}
