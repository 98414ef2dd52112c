package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Sales CRM Pipeline API
// @version         0.1.0
// @description     Opportunity pipeline, stage transitions, forecasting and source analytics.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
