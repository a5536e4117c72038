package geo

// Region is one federative unit with its canonical city list.
type Region struct {
	Code   string
	Name   string
	Cities []string
}

// regions is the canonical table. Order is stable and drives the order in
// which the orchestrator visits cities for country-wide searches.
var regions = []Region{
	{Code: "AC", Name: "Acre", Cities: []string{"Rio Branco", "Cruzeiro do Sul", "Sena Madureira", "Tarauacá", "Feijó"}},
	{Code: "AL", Name: "Alagoas", Cities: []string{"Maceió", "Arapiraca", "Rio Largo", "Palmeira dos Índios", "Penedo", "União dos Palmares"}},
	{Code: "AP", Name: "Amapá", Cities: []string{"Macapá", "Santana", "Laranjal do Jari", "Oiapoque"}},
	{Code: "AM", Name: "Amazonas", Cities: []string{"Manaus", "Parintins", "Itacoatiara", "Manacapuru", "Coari", "Tefé"}},
	{Code: "BA", Name: "Bahia", Cities: []string{"Salvador", "Feira de Santana", "Vitória da Conquista", "Camaçari", "Itabuna", "Juazeiro", "Lauro de Freitas", "Ilhéus", "Porto Seguro"}},
	{Code: "CE", Name: "Ceará", Cities: []string{"Fortaleza", "Caucaia", "Juazeiro do Norte", "Maracanaú", "Sobral", "Crato", "Itapipoca"}},
	{Code: "DF", Name: "Distrito Federal", Cities: []string{"Brasília", "Ceilândia", "Taguatinga", "Samambaia", "Águas Claras"}},
	{Code: "ES", Name: "Espírito Santo", Cities: []string{"Vitória", "Vila Velha", "Serra", "Cariacica", "Cachoeiro de Itapemirim", "Linhares", "Guarapari"}},
	{Code: "GO", Name: "Goiás", Cities: []string{"Goiânia", "Aparecida de Goiânia", "Anápolis", "Rio Verde", "Luziânia", "Águas Lindas de Goiás", "Caldas Novas"}},
	{Code: "MA", Name: "Maranhão", Cities: []string{"São Luís", "Imperatriz", "São José de Ribamar", "Timon", "Caxias", "Codó"}},
	{Code: "MT", Name: "Mato Grosso", Cities: []string{"Cuiabá", "Várzea Grande", "Rondonópolis", "Sinop", "Tangará da Serra", "Sorriso"}},
	{Code: "MS", Name: "Mato Grosso do Sul", Cities: []string{"Campo Grande", "Dourados", "Três Lagoas", "Corumbá", "Ponta Porã"}},
	{Code: "MG", Name: "Minas Gerais", Cities: []string{"Belo Horizonte", "Uberlândia", "Contagem", "Juiz de Fora", "Betim", "Montes Claros", "Ribeirão das Neves", "Uberaba", "Governador Valadares", "Ipatinga"}},
	{Code: "PA", Name: "Pará", Cities: []string{"Belém", "Ananindeua", "Santarém", "Marabá", "Parauapebas", "Castanhal"}},
	{Code: "PB", Name: "Paraíba", Cities: []string{"João Pessoa", "Campina Grande", "Santa Rita", "Patos", "Bayeux"}},
	{Code: "PR", Name: "Paraná", Cities: []string{"Curitiba", "Londrina", "Maringá", "Ponta Grossa", "Cascavel", "São José dos Pinhais", "Foz do Iguaçu", "Colombo"}},
	{Code: "PE", Name: "Pernambuco", Cities: []string{"Recife", "Jaboatão dos Guararapes", "Olinda", "Caruaru", "Petrolina", "Paulista", "Cabo de Santo Agostinho"}},
	{Code: "PI", Name: "Piauí", Cities: []string{"Teresina", "Parnaíba", "Picos", "Piripiri", "Floriano"}},
	{Code: "RJ", Name: "Rio de Janeiro", Cities: []string{"Rio de Janeiro", "São Gonçalo", "Duque de Caxias", "Nova Iguaçu", "Niterói", "Belford Roxo", "Campos dos Goytacazes", "Petrópolis", "Volta Redonda", "Macaé"}},
	{Code: "RN", Name: "Rio Grande do Norte", Cities: []string{"Natal", "Mossoró", "Parnamirim", "São Gonçalo do Amarante", "Caicó"}},
	{Code: "RS", Name: "Rio Grande do Sul", Cities: []string{"Porto Alegre", "Caxias do Sul", "Canoas", "Pelotas", "Santa Maria", "Gravataí", "Novo Hamburgo", "Passo Fundo"}},
	{Code: "RO", Name: "Rondônia", Cities: []string{"Porto Velho", "Ji-Paraná", "Ariquemes", "Vilhena", "Cacoal"}},
	{Code: "RR", Name: "Roraima", Cities: []string{"Boa Vista", "Rorainópolis", "Caracaraí"}},
	{Code: "SC", Name: "Santa Catarina", Cities: []string{"Florianópolis", "Joinville", "Blumenau", "São José", "Itajaí", "Chapecó", "Criciúma", "Balneário Camboriú"}},
	{Code: "SP", Name: "São Paulo", Cities: []string{"São Paulo", "Guarulhos", "Campinas", "São Bernardo do Campo", "Santo André", "Osasco", "Sorocaba", "Ribeirão Preto", "São José dos Campos", "Santos", "Jundiaí", "Piracicaba"}},
	{Code: "SE", Name: "Sergipe", Cities: []string{"Aracaju", "Nossa Senhora do Socorro", "Lagarto", "Itabaiana", "Estância"}},
	{Code: "TO", Name: "Tocantins", Cities: []string{"Palmas", "Araguaína", "Gurupi", "Porto Nacional", "Paraíso do Tocantins"}},
}

// countryAliases are the spellings that mean "search the whole country".
var countryAliases = []string{
	"br",
	"bra",
	"brasil",
	"brazil",
	"todo o brasil",
	"todo brasil",
	"brasil inteiro",
	"all of brazil",
	"nacional",
}

// Regions returns a copy of the canonical region table.
func Regions() []Region {
	out := make([]Region, len(regions))
	for i, r := range regions {
		out[i] = Region{Code: r.Code, Name: r.Name, Cities: append([]string(nil), r.Cities...)}
	}
	return out
}
