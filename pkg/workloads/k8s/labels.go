package k8s

const (
	// label to select resources of a workload app
	LabelWorkloadApp = "paas.bk.tencent.com/wl-app"

	// label to tell which process a resource belongs to
	LabelProcess = "paas.bk.tencent.com/process"

	// label to tell which component created a resource ("slug-builder", "ingress", ...)
	LabelCategory = "paas.bk.tencent.com/category"

	// label to tell which deployment created a resource
	LabelDeployID = "paas.bk.tencent.com/deploy-id"

	// field manager name for server side writes
	FieldManager = "bkpaas"
)

// AppLabels returns labels to identify resources of the workload app.
func AppLabels(wlApp string, extra map[string]string) map[string]string {
	l := map[string]string{LabelWorkloadApp: wlApp}
	for k, v := range extra {
		l[k] = v
	}
	return l
}
