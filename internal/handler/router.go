package handler

import "github.com/gin-gonic/gin"

// Handlers groups every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Scheduling   *SchedulingHandler
	Registration *RegistrationHandler
	Lifecycle    *LifecycleHandler
	Catalog      *CatalogHandler
	Settings     *SettingsHandler
	Staffing     *StaffingHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts the probes on root and the API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.GET("/system/metrics", h.Metrics.System)

	programs := api.Group("/programs/:programID")
	programs.GET("/catalog", h.Catalog.Catalog)
	programs.GET("/catalog/export.csv", h.Catalog.ExportCSV)
	programs.GET("/settings", h.Settings.List)
	programs.PUT("/settings", h.Settings.BulkUpdate)
	programs.PUT("/settings/:key", h.Settings.Update)
	programs.GET("/availability/:userId", h.Staffing.Availability)
	programs.PUT("/availability/:userId", h.Staffing.SetAvailability)

	sections := api.Group("/sections/:id")
	sections.GET("/times", h.Scheduling.Times)
	sections.GET("/scheduling-status", h.Scheduling.Status)
	sections.GET("/viable-times", h.Scheduling.ViableTimes)
	sections.GET("/viable-rooms", h.Scheduling.ViableRooms)
	sections.POST("/rooms", h.Scheduling.AssignRoom)
	sections.DELETE("/rooms", h.Scheduling.ClearRooms)
	sections.DELETE("/floating-resources", h.Scheduling.ClearFloatingResources)
	sections.POST("/start-time", h.Scheduling.AssignStartTime)
	sections.GET("/eligibility", h.Registration.SectionEligibility)
	sections.POST("/registrations", h.Registration.RegisterSection)
	sections.DELETE("/registrations/:studentId", h.Registration.UnregisterSection)
	sections.GET("/registrations/:studentId/history", h.Registration.RegistrationHistory)
	sections.POST("/status/:action", h.Lifecycle.SectionStatus)
	sections.GET("/roster.pdf", h.Catalog.RosterPDF)
	sections.DELETE("", h.Lifecycle.DeleteSection)

	subjects := api.Group("/subjects/:id")
	subjects.GET("/eligibility", h.Registration.SubjectEligibility)
	subjects.POST("/registrations", h.Registration.RegisterSubject)
	subjects.DELETE("/registrations/:studentId", h.Registration.UnregisterSubject)
	subjects.GET("/teachers", h.Staffing.Teachers)
	subjects.POST("/teachers", h.Staffing.AddTeacher)
	subjects.DELETE("/teachers/:userId", h.Staffing.RemoveTeacher)
	subjects.POST("/status/:action", h.Lifecycle.SubjectStatus)
	subjects.DELETE("", h.Lifecycle.DeleteSubject)
}
