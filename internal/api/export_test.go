package api

var StatusFor = statusFor
