package batch

// CSV templates downloadable from the API. Every template carries a
// header line and two example rows; only general includes report_type,
// the others rely on column detection.
var templates = map[string]string{
	"service": "vin,date,odometer_km,service_type,facility_name,description,cost,parts_type\n" +
		"2HGFC2F59MH528491,2025-06-15,45000,oil_change,Garage Tremblay,Changement huile et filtre,89.99,oem\n" +
		"1FTFW1ET5DFC10312,2025-07-02,112500,brake_service,Centre Auto Laval,Plaquettes avant,329.50,aftermarket\n",

	"accident": "vin,date,severity,impact_point,airbag_deployed,structural_damage,estimated_cost,description,odometer_km\n" +
		"2HGFC2F59MH528491,2025-03-21,moderate,front,oui,non,4500.00,Collision avant sur la 40,47200\n" +
		"1FTFW1ET5DFC10312,2024-11-08,minor,rear,non,non,1200.00,Accrochage stationnement,98000\n",

	"inspection": "vin,date,result,odometer_km,inspection_type,inspector_name,facility_name,notes\n" +
		"2HGFC2F59MH528491,2025-05-10,pass,44100,saaq_mecanique,J. Bouchard,Inspection Plus Montreal,RAS\n" +
		"1FTFW1ET5DFC10312,2025-04-18,fail,110900,saaq_mecanique,M. Gagnon,Inspection Plus Montreal,Freins arriere uses\n",

	"ownership": "vin,date,previous_owner_type,new_owner_type,province,sale_price,odometer_km\n" +
		"2HGFC2F59MH528491,2025-01-15,private,private,QC,18500.00,43000\n" +
		"1FTFW1ET5DFC10312,2024-09-30,dealer,private,QC,32900.00,95500\n",

	"general": "vin,report_type,date,odometer_km,service_type,severity,impact_point,result,recall_number,facility_name,cost,description\n" +
		"2HGFC2F59MH528491,service,2025-06-15,45000,oil_change,,,,,Garage Tremblay,89.99,Changement huile\n" +
		"1FTFW1ET5DFC10312,accident,2025-03-21,47200,,moderate,front,,,,4500.00,Collision avant\n",
}

// TemplateNames lists the available CSV templates in a stable order.
func TemplateNames() []string {
	return []string{"service", "accident", "inspection", "ownership", "general"}
}

// Template returns a template's CSV content by name.
func Template(name string) (string, bool) {
	t, ok := templates[name]
	return t, ok
}
