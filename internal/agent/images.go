package agent

import (
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
)

// MaxAggregateImages caps the images attached to the aggregation call.
const MaxAggregateImages = 2

// SelectImages picks the aggregation images: the first figure slice and the
// first question slice when slices exist, otherwise the raw page image.
func SelectImages(st *session.State) []string {
	var out []string
	for _, role := range []tools.Role{tools.RoleFigure, tools.RoleQuestion} {
		if s := st.Slices[role]; len(s) > 0 {
			out = append(out, s[0].Key)
		}
	}
	if len(out) == 0 && len(st.Images) > 0 {
		out = append(out, st.Images[0])
	}
	if len(out) > MaxAggregateImages {
		out = out[:MaxAggregateImages]
	}
	return out
}
