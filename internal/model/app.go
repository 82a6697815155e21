package model

const (
	AppServiceName = "report_exporter"
	NamespaceName  = "clinicore"
	CurrentVersion = "25.08"
)
