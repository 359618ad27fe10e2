package sensor

// CelsiusToFahrenheit converts using F = C*9/5+32.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// KelvinToFahrenheit uses 273 as the offset to match the OpenWeather readings
// already recorded by the rig.
func KelvinToFahrenheit(k float64) float64 {
	return (9.0/5.0)*(k-273) + 32
}
