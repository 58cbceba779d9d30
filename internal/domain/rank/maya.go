package rank

// Идентификаторы рангов майянской лестницы.
const (
	Nacom       ID = "Nacom"
	Ajaw        ID = "Ajaw"
	AhKin       ID = "Ah K'in"
	HalachUinic ID = "Halach Uinic"
	Kukulkan    ID = "K'uk'ulkan"
)

// MayaDefinitions возвращает определения стандартной лестницы из пяти рангов.
// Новый пользователь и пользователь после престижа начинают с Nacom.
func MayaDefinitions() []Definition {
	return []Definition{
		{
			ID:              Nacom,
			Name:            "Nacom",
			DisplayName:     "Capitán de Guerra",
			Description:     "Iniciado en el camino del conocimiento.",
			MLCoinsRequired: 0,
			Multiplier:      1.0,
			PromotionBonus:  50,
			Benefits: []string{
				"Acceso a Módulo 1 (Comprensión Literal)",
				"Multiplicador ML Coins: 1.0x",
			},
			Order: 0,
		},
		{
			ID:              Ajaw,
			Name:            "Ajaw",
			DisplayName:     "Señor / Gobernante",
			Description:     "Explorador de nuevos horizontes.",
			MLCoinsRequired: 200,
			Multiplier:      1.25,
			PromotionBonus:  75,
			Benefits: []string{
				"Acceso a Módulo 2 (Comprensión Inferencial)",
				"Multiplicador ML Coins: 1.25x",
				"Cosméticos nivel 1",
			},
			Order: 1,
		},
		{
			ID:              AhKin,
			Name:            "Ah K'in",
			DisplayName:     "Sacerdote del Sol",
			Description:     "Analista crítico de textos.",
			MLCoinsRequired: 500,
			Multiplier:      1.5,
			PromotionBonus:  100,
			Benefits: []string{
				"Acceso a Módulo 3 (Comprensión Crítica)",
				"Multiplicador ML Coins: 1.5x",
				"Acceso a Gremios",
				"Título personalizado",
			},
			Order: 2,
		},
		{
			ID:              HalachUinic,
			Name:            "Halach Uinic",
			DisplayName:     "Hombre Verdadero",
			Description:     "Crítico experto en lectura digital.",
			MLCoinsRequired: 1000,
			Multiplier:      1.75,
			PromotionBonus:  125,
			Benefits: []string{
				"Acceso a Módulo 4 (Lectura Digital)",
				"Multiplicador ML Coins: 1.75x",
				"Crear Gremios",
				"Mentoría de novatos",
			},
			Order: 3,
		},
		{
			ID:              Kukulkan,
			Name:            "K'uk'ulkan",
			DisplayName:     "Serpiente Emplumada",
			Description:     "Maestro de la producción lectora. Máximo nivel alcanzado.",
			MLCoinsRequired: 2000,
			Multiplier:      2.0,
			PromotionBonus:  150,
			Benefits: []string{
				"Acceso a Módulo 5 (Producción Lectora)",
				"Multiplicador ML Coins: 2.0x",
				"Todos los cosméticos",
				"Elegibilidad para Prestige",
			},
			Order: 4,
		},
	}
}

// DefaultTable возвращает стандартную майянскую таблицу рангов.
func DefaultTable() *Table {
	return MustNewTable(MayaDefinitions())
}
