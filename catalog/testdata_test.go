package catalog

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9993"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257767"

	issOMM = `{
		"OBJECT_NAME": "ISS (ZARYA)",
		"OBJECT_ID": "1998-067A",
		"EPOCH": "2021-10-02T14:11:00.000000",
		"MEAN_MOTION": 15.49370953,
		"ECCENTRICITY": 0.0001817,
		"INCLINATION": 51.6459,
		"RA_OF_ASC_NODE": 115.9059,
		"ARG_OF_PERICENTER": 61.3028,
		"MEAN_ANOMALY": 35.9198,
		"EPHEMERIS_TYPE": 0,
		"CLASSIFICATION_TYPE": "U",
		"NORAD_CAT_ID": 25544,
		"ELEMENT_SET_NO": 999,
		"REV_AT_EPOCH": 25776,
		"BSTAR": 1.027e-5,
		"MEAN_MOTION_DOT": 2.04e-6,
		"MEAN_MOTION_DDOT": 0
	}`
)

const tleDocument = issName + "\n" + issLine1 + "\n" + issLine2 + "\n"
